// Package config parses the mt CLI, resolves the OS-appropriate
// state directory, and loads the optional on-disk settings file (§6).
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort = 2000
	defaultBind = "0.0.0.0"
)

// Config is the resolved runtime configuration for the mt parent process.
type Config struct {
	Port int
	Bind string

	ServiceMode bool

	Version      bool
	Help         bool
	HashPassword bool
	WriteSecret  string
	GenerateCert bool
	ForceCert    bool
	CheckUpdate  bool
	Update       bool

	StateDir string
}

// Settings is the optional non-secret defaults file read from
// <state-dir>/config.yaml (§6, SPEC_FULL §2 yaml.v3 wiring). Only Port
// and Bind are applied as defaults; Shell is read but not used.
type Settings struct {
	Port  int    `yaml:"port,omitempty"`
	Bind  string `yaml:"bind,omitempty"`
	Shell string `yaml:"shell,omitempty"`
}

// Parse builds a Config from CLI args, a .env file in the working
// directory (if present), and the on-disk settings file once the
// state-dir is known. args is normally os.Args[1:].
func Parse(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "mt: warning: .env: %v\n", err)
	}

	fs := flag.NewFlagSet("mt", flag.ContinueOnError)
	cfg := &Config{}

	fs.IntVar(&cfg.Port, "port", defaultPort, "port to listen on")
	fs.StringVar(&cfg.Bind, "bind", defaultBind, "address to bind")
	fs.BoolVar(&cfg.Version, "version", false, "print version and exit")
	fs.BoolVar(&cfg.Version, "v", false, "print version and exit (shorthand)")
	fs.BoolVar(&cfg.Help, "help", false, "print usage and exit")
	fs.BoolVar(&cfg.Help, "h", false, "print usage and exit (shorthand)")
	fs.BoolVar(&cfg.HashPassword, "hash-password", false, "read a password from stdin and print its bcrypt hash")
	fs.StringVar(&cfg.WriteSecret, "write-secret", "", "write a secret to the state dir: password_hash, session_secret, or certificate_password")
	fs.BoolVar(&cfg.GenerateCert, "generate-cert", false, "generate a self-signed TLS certificate under the state dir")
	fs.BoolVar(&cfg.ForceCert, "force", false, "overwrite an existing certificate with --generate-cert")
	fs.BoolVar(&cfg.ServiceMode, "service-mode", false, "use the OS service state dir instead of the per-user one")
	fs.BoolVar(&cfg.CheckUpdate, "check-update", false, "check for an available update and exit")
	fs.BoolVar(&cfg.Update, "update", false, "download and apply an available update, then exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.StateDir = StateDir(cfg.ServiceMode)

	if settings, err := loadSettings(cfg.StateDir); err == nil && settings != nil {
		applySettingsDefaults(fs, cfg, settings)
	}

	return cfg, nil
}

// applySettingsDefaults fills in cfg fields left at their flag default
// from the on-disk settings file, without overriding anything the user
// explicitly passed on the command line.
func applySettingsDefaults(fs *flag.FlagSet, cfg *Config, settings *Settings) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if settings.Port != 0 && !explicit["port"] {
		cfg.Port = settings.Port
	}
	if settings.Bind != "" && !explicit["bind"] {
		cfg.Bind = settings.Bind
	}
}

func loadSettings(stateDir string) (*Settings, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: parse config.yaml: %w", err)
	}
	return &s, nil
}

// StateDir resolves the OS-appropriate state directory (§6): the
// service-mode system location when serviceMode is set, otherwise a
// per-user directory.
func StateDir(serviceMode bool) string {
	if dir := os.Getenv("MIDTERM_STATE_DIR"); dir != "" {
		return dir
	}
	if serviceMode {
		switch runtime.GOOS {
		case "windows":
			base := os.Getenv("ProgramData")
			if base == "" {
				base = `C:\ProgramData`
			}
			return filepath.Join(base, "MidTerm")
		default:
			return "/usr/local/etc/midterm"
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".midterm")
}

// LogDir is <state-dir>/logs (§6).
func LogDir(stateDir string) string {
	return filepath.Join(stateDir, "logs")
}
