package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var stdinReader = bufio.NewReader(os.Stdin)

// promptSecret reads a line without echo. Piped input is read as a plain
// line so scripts can feed passphrases on stdin.
func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(b), nil
	}

	return readLine()
}

func promptLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	return readLine()
}

func readLine() (string, error) {
	line, err := stdinReader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptNewSecret asks twice and reports the strength of the first entry.
func promptNewSecret(label string) (string, string, error) {
	pass, err := promptSecret(label)
	if err != nil {
		return "", "", err
	}
	printStrength(os.Stderr, pass)

	confirm, err := promptSecret("Confirm: ")
	if err != nil {
		return "", "", err
	}
	return pass, confirm, nil
}
