package commands

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"festpage/internal/auth"
	"festpage/internal/config"
)

// HashPassword handles the hash-password subcommand. It prompts for a
// password, prints its Argon2id hash, and with -config also stores the
// credentials in the config file's basic_auth block.
func HashPassword(args []string) int {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file to update (prints the hash only when empty)")
	username := fs.String("user", "admin", "Basic Auth username stored with -config")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: festpage hash-password [OPTIONS]\n\n")
		fmt.Fprintf(os.Stderr, "Hashes a password with Argon2id for basic_auth.password_hash.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	password, err := readPassword(os.Stdin, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *configPath == "" {
		fmt.Println(hash)
		return 0
	}

	if err := storeCredentials(*configPath, *username, hash); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Basic Auth credentials written to %s (user: %s)\n", *configPath, *username)
	return 0
}

func storeCredentials(path, username, hash string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg.BasicAuth = &config.BasicAuthConfig{Username: username, PasswordHash: hash}
	return cfg.Save(path)
}

// readPassword prompts twice on a terminal with echo disabled. Piped input
// is read as a single line.
func readPassword(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		pw := strings.TrimRight(line, "\r\n")
		if pw == "" {
			return "", errors.New("password cannot be empty")
		}
		return pw, nil
	}

	fmt.Fprint(prompt, "Enter password:   ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	fmt.Fprint(prompt, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}

	if len(first) == 0 {
		return "", errors.New("password cannot be empty")
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
