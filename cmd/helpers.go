package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
)

// startSpinner shows msg with a spinner on w until the returned func is
// called. Quiet mode shows nothing.
func (o *rootOptions) startSpinner(w io.Writer, msg string) func() {
	if o.quiet {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + msg
	s.Start()
	return s.Stop
}

// readSecretLine reads one line from in, for --password-stdin.
func readSecretLine(in io.Reader) (string, error) {
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return "", errors.New("no password on stdin")
	}
	return strings.TrimRight(scanner.Text(), "\r\n"), nil
}

// promptCredentials asks for whatever of username and password is missing.
func promptCredentials(username string) (string, string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "Username: ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	if username == "" {
		line, err := rl.Readline()
		if err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
		if username == "" {
			return "", "", errors.New("username is required")
		}
	}

	password, err := rl.ReadPassword(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", "", errors.New("login cancelled")
		}
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}
	return username, string(password), nil
}

// formatExpiry renders an expiry relative to now.
func formatExpiry(expires, now time.Time) string {
	if expires.IsZero() {
		return "never"
	}
	d := expires.Sub(now).Round(time.Second)
	if d <= 0 {
		return fmt.Sprintf("%s (expired %s ago)", expires.Local().Format(time.RFC3339), -d)
	}
	return fmt.Sprintf("%s (in %s)", expires.Local().Format(time.RFC3339), d)
}
