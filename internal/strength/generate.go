package strength

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	lowerSet  = "abcdefghijklmnopqrstuvwxyz"
	upperSet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitSet  = "0123456789"
	symbolSet = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	DefaultGeneratedLength = 16
	MaxGeneratedLength     = 256
)

var ErrNoCharset = errors.New("at least one character class must be selected")

type GenerateOptions struct {
	Length  int
	Lower   bool
	Upper   bool
	Digits  bool
	Symbols bool
}

func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Length:  DefaultGeneratedLength,
		Lower:   true,
		Upper:   true,
		Digits:  true,
		Symbols: true,
	}
}

// Generate returns a random password drawn uniformly from the selected
// classes. Every selected class appears at least once when Length allows.
func Generate(opts GenerateOptions) (string, error) {
	if opts.Length <= 0 {
		opts.Length = DefaultGeneratedLength
	}
	if opts.Length > MaxGeneratedLength {
		return "", fmt.Errorf("length %d exceeds %d", opts.Length, MaxGeneratedLength)
	}

	var classes []string
	if opts.Lower {
		classes = append(classes, lowerSet)
	}
	if opts.Upper {
		classes = append(classes, upperSet)
	}
	if opts.Digits {
		classes = append(classes, digitSet)
	}
	if opts.Symbols {
		classes = append(classes, symbolSet)
	}
	if len(classes) == 0 {
		return "", ErrNoCharset
	}

	var charset string
	for _, c := range classes {
		charset += c
	}

	out := make([]byte, opts.Length)
	for i := range out {
		src := charset
		if i < len(classes) {
			src = classes[i]
		}
		c, err := pick(src)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	if err := shuffle(out); err != nil {
		return "", err
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[n], nil
}

func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random: %w", err)
	}
	return int(v.Int64()), nil
}
