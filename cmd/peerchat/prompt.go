package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/peerchat/peerchat/internal/session"
	"github.com/peerchat/peerchat/internal/validation"
)

var stdinReader = bufio.NewReader(os.Stdin)

func promptLine(label string) (string, error) {
	fmt.Print(label)
	line, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("input cancelled: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// resolveRole maps the -role flag or an interactive h/g prompt onto a
// session role.
func resolveRole(flagValue string) (session.Role, error) {
	choice := strings.ToLower(strings.TrimSpace(flagValue))
	if choice == "" {
		answer, err := promptLine("Host or Guest? (h/g): ")
		if err != nil {
			return 0, err
		}
		choice = strings.ToLower(answer)
	}
	switch choice {
	case "h", "host":
		return session.RoleHost, nil
	case "g", "guest":
		return session.RoleGuest, nil
	default:
		return 0, fmt.Errorf("invalid role %q: enter 'h' or 'g'", choice)
	}
}

// promptCode reads the shared session code. On a terminal the input is
// hidden; the code is a secret.
func promptCode() (string, error) {
	fmt.Print("Enter session code: ")
	if term.IsTerminal(int(syscall.Stdin)) {
		codeBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read session code: %w", err)
		}
		return strings.TrimSpace(string(codeBytes)), nil
	}
	return promptLine("")
}

func promptPort() (int, error) {
	answer, err := promptLine("Enter host port: ")
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", validation.ErrInvalidPort, answer)
	}
	return port, nil
}
