package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// secretKinds are the --write-secret values spec.md's CLI subset names.
var secretKinds = map[string]bool{
	"password_hash":       true,
	"session_secret":      true,
	"certificate_password": true,
}

// ValidSecretKind reports whether kind is one of the --write-secret values.
func ValidSecretKind(kind string) bool {
	return secretKinds[kind]
}

// HashPassword returns the bcrypt hash of password, matching what an external
// auth collaborator would store and compare against (§6).
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("config: hash password: %w", err)
	}
	return string(hash), nil
}

// ReadPasswordLine reads a single line from r, trimming the trailing
// newline. Used by --hash-password to read stdin.
func ReadPasswordLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteSecret persists a secret value of the given kind under the
// state dir's secrets subdirectory, creating it with restrictive
// permissions. kind must satisfy ValidSecretKind.
func WriteSecret(stateDir, kind, value string) (string, error) {
	if !ValidSecretKind(kind) {
		return "", fmt.Errorf("config: unknown secret kind %q", kind)
	}
	dir := filepath.Join(stateDir, "secrets")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: create secrets dir: %w", err)
	}
	path := filepath.Join(dir, kind)
	if err := os.WriteFile(path, []byte(value+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("config: write secret: %w", err)
	}
	return path, nil
}
