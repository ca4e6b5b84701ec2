package config

import (
	"bufio"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, defaultPort)
	}
	if cfg.Bind != defaultBind {
		t.Errorf("Bind = %q, want %q", cfg.Bind, defaultBind)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]string{"--port", "9001", "--bind", "127.0.0.1"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Port)
	}
	if cfg.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, want 127.0.0.1", cfg.Bind)
	}
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	if _, err := Parse([]string{"--not-a-flag"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestStateDirServiceModeUnix(t *testing.T) {
	t.Setenv("MIDTERM_STATE_DIR", "")
	dir := StateDir(true)
	if dir == "" {
		t.Fatal("StateDir returned empty string")
	}
}

func TestStateDirRespectsEnvOverride(t *testing.T) {
	t.Setenv("MIDTERM_STATE_DIR", "/tmp/custom-state")
	if got := StateDir(false); got != "/tmp/custom-state" {
		t.Errorf("StateDir = %q, want /tmp/custom-state", got)
	}
}

func TestWriteSecretRejectsUnknownKind(t *testing.T) {
	if _, err := WriteSecret(t.TempDir(), "bogus", "x"); err == nil {
		t.Fatal("expected error for unknown secret kind")
	}
}

func TestWriteSecretRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteSecret(dir, "session_secret", "abc123")
	if err != nil {
		t.Fatalf("WriteSecret: %v", err)
	}
	if path == "" {
		t.Fatal("WriteSecret returned empty path")
	}
}

func TestHashPasswordProducesVerifiableHash(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "" || hash == "correct horse battery staple" {
		t.Errorf("HashPassword returned unhashed or empty value: %q", hash)
	}
}

func TestReadPasswordLineTrimsNewline(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("hunter2\n"))
	got, err := ReadPasswordLine(r)
	if err != nil {
		t.Fatalf("ReadPasswordLine: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("ReadPasswordLine = %q, want hunter2", got)
	}
}
