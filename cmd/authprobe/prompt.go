package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// swapped in tests so they never touch the terminal
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// promptPassword reads a password without echo when stdin is a terminal.
func promptPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return "", errors.New("no password given and stdin is not a terminal; use -password or AUTHPROBE_PASSWORD")
	}
	if _, err := fmt.Fprint(w, "Password: "); err != nil {
		return "", err
	}
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
