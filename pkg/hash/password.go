package hash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinLength    = 12
	argon2Prefix = "$argon2id$"
	bcryptPrefix = "$2"
)

var (
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinLength)
	ErrMismatch         = errors.New("password does not match")
	ErrInvalidHash      = errors.New("invalid password hash")
)

type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

var DefaultParams = Params{
	Memory:      64 * 1024,
	Time:        4,
	Parallelism: 3,
	SaltLen:     16,
	KeyLen:      32,
}

func Hash(password string) (string, error) {
	return HashWithParams(password, DefaultParams)
}

// HashWithParams encodes as $argon2id$v=19$m=<M>,t=<T>,p=<P>$<salt>$<key>.
func HashWithParams(password string, p Params) (string, error) {
	if len(password) < MinLength {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version,
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare returns nil when password matches hashedPassword. bcrypt hashes
// from older deployments are still accepted.
func Compare(hashedPassword, password string) error {
	switch {
	case strings.HasPrefix(hashedPassword, argon2Prefix):
		return compareArgon2(hashedPassword, password)
	case strings.HasPrefix(hashedPassword, bcryptPrefix):
		if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return ErrMismatch
			}
			return fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
		return nil
	default:
		return ErrInvalidHash
	}
}

// NeedsRehash reports whether hashedPassword was produced by anything other
// than argon2id with DefaultParams.
func NeedsRehash(hashedPassword string) bool {
	p, _, _, err := decodeArgon2(hashedPassword)
	if err != nil {
		return true
	}
	return p.Memory != DefaultParams.Memory ||
		p.Time != DefaultParams.Time ||
		p.Parallelism != DefaultParams.Parallelism
}

func compareArgon2(encoded, password string) error {
	p, salt, want, err := decodeArgon2(encoded)
	if err != nil {
		return err
	}

	got := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMismatch
	}
	return nil
}

func decodeArgon2(encoded string) (Params, []byte, []byte, error) {
	var p Params

	if !strings.HasPrefix(encoded, argon2Prefix) {
		return p, nil, nil, ErrInvalidHash
	}
	parts := strings.Split(encoded[len(argon2Prefix):], "$")
	if len(parts) != 4 {
		return p, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[0], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrInvalidHash
	}
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	p.SaltLen = len(salt)
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}
