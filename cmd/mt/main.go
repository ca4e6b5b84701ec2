// Command mt is the parent process: it listens on HTTPS, serves the
// mux and state WebSockets and the session REST surface, and spawns
// one mthost child per terminal session (§1, §6).
//
// @title        MidTerm API
// @version      0.1.0
// @description  HTTPS control surface for the MidTerm terminal multiplexer.
// @BasePath     /
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/midterm-hq/midterm/docs"
	"github.com/midterm-hq/midterm/internal/apiserver"
	"github.com/midterm-hq/midterm/internal/buildinfo"
	"github.com/midterm-hq/midterm/internal/config"
	"github.com/midterm-hq/midterm/internal/lock"
	"github.com/midterm-hq/midterm/internal/session"
	"github.com/midterm-hq/midterm/internal/update"
)

const (
	ringBytes      = 1 << 20 // 1 MiB scrollback per session
	maxSessions    = 0       // 0 means no session limit
	shutdownDrain  = 8 * time.Second
	exitPortInUse  = 1
	exitLockHeld   = 1
	exitBadArgs    = 64
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mt:", err)
		return exitBadArgs
	}

	switch {
	case cfg.Help:
		printUsage()
		return 0
	case cfg.Version:
		fmt.Println(buildinfo.String())
		return 0
	case cfg.HashPassword:
		return runHashPassword()
	case cfg.WriteSecret != "":
		return runWriteSecret(cfg)
	case cfg.GenerateCert:
		return runGenerateCert(cfg)
	case cfg.CheckUpdate:
		return runCheckUpdate()
	case cfg.Update:
		return runUpdate()
	}

	return runServer(cfg)
}

func printUsage() {
	fmt.Println(`mt [--port N] [--bind ADDR] [--version|-v] [--help|-h]
   [--hash-password] [--write-secret {password_hash|session_secret|certificate_password} [--service-mode]]
   [--generate-cert [--force] [--service-mode]] [--check-update] [--update]`)
}

func runHashPassword() int {
	line, err := config.ReadPasswordLine(bufio.NewReader(os.Stdin))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mt: read password:", err)
		return 1
	}
	hash, err := config.HashPassword(line)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mt:", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}

func runWriteSecret(cfg *config.Config) int {
	if !config.ValidSecretKind(cfg.WriteSecret) {
		fmt.Fprintf(os.Stderr, "mt: unknown secret kind %q\n", cfg.WriteSecret)
		return exitBadArgs
	}
	line, err := config.ReadPasswordLine(bufio.NewReader(os.Stdin))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mt: read secret:", err)
		return 1
	}
	value := line
	if cfg.WriteSecret == "password_hash" {
		value, err = config.HashPassword(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mt:", err)
			return 1
		}
	}
	path, err := config.WriteSecret(cfg.StateDir, cfg.WriteSecret, value)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mt:", err)
		return 1
	}
	fmt.Println(path)
	return 0
}

// runGenerateCert is a documented no-op: certificate generation and OS
// trust-store installation are an external collaborator's job (§1
// Non-goals). This exists so the flag parses and state-dir paths
// resolve rather than failing with "unknown flag".
func runGenerateCert(cfg *config.Config) int {
	fmt.Fprintln(os.Stderr, "mt: --generate-cert is not implemented by this core; "+
		"place cert.pem and key.pem under", filepath.Join(cfg.StateDir, "tls"))
	return 1
}

func runCheckUpdate() int {
	info, err := update.NoopChecker{}.CheckForUpdate(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "mt:", err)
		return 1
	}
	if info == nil {
		fmt.Println("no update available")
		return 0
	}
	fmt.Println("update available:", info.Version)
	return 0
}

func runUpdate() int {
	fmt.Fprintln(os.Stderr, "mt: --update is not implemented by this core; see DESIGN.md")
	return 1
}

func runServer(cfg *config.Config) int {
	configureLogging(cfg)
	docs.SwaggerInfo.Host = fmt.Sprintf("%s:%d", hostForDisplay(cfg.Bind), cfg.Port)

	instanceLock, err := lock.Acquire(cfg.StateDir)
	if err != nil {
		var held *lock.ErrHeld
		if errors.As(err, &held) {
			fmt.Fprintln(os.Stderr, "mt: another instance already holds", held.Path)
		} else {
			fmt.Fprintln(os.Stderr, "mt:", err)
		}
		return exitLockHeld
	}
	defer instanceLock.Release()

	cert, err := loadTLSCert(cfg.StateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mt:", err)
		return 1
	}

	mgr := session.NewManager(cfg.StateDir, ringBytes, "", defaultShell(), maxSessions)
	mgr.DiscoverExistingSessionsAsync()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go mgr.WatchBeacons(watchCtx)

	router := apiserver.SetupRouter(mgr, nil, update.NoopChecker{}, false)

	addr := net.JoinHostPort(cfg.Bind, fmt.Sprintf("%d", cfg.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mt: listen:", err)
		return exitPortInUse
	}
	tlsLn := tls.NewListener(ln, srv.TLSConfig)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(tlsLn)
	}()
	logrus.WithField("addr", addr).Info("mt: listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "mt: serve:", err)
			return 1
		}
	case <-sigCh:
		logrus.Info("mt: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
		defer cancel()

		// Stop accepting new HTTP work and drain every live session
		// concurrently. srv.Shutdown is bounded by ctx (shutdownDrain) and
		// DisposeAsync by the session manager's own 8s drain timeout, so
		// running them side by side keeps the total near 8s (§8 Property 9).
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				logrus.WithError(err).Warn("mt: graceful shutdown timed out, forcing close")
				_ = srv.Close()
			}
		}()
		go func() {
			defer wg.Done()
			mgr.DisposeAsync()
		}()
		wg.Wait()
	}

	return 0
}

func loadTLSCert(stateDir string) (tls.Certificate, error) {
	certPath := filepath.Join(stateDir, "tls", "cert.pem")
	keyPath := filepath.Join(stateDir, "tls", "key.pem")
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf(
			"load TLS certificate (expected %s and %s; see --generate-cert): %w",
			certPath, keyPath, err)
	}
	return cert, nil
}

func configureLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if lvl := os.Getenv("MIDTERM_LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			logrus.SetLevel(parsed)
		}
	}
	if err := os.MkdirAll(config.LogDir(cfg.StateDir), 0o700); err != nil {
		logrus.WithError(err).Warn("mt: could not create log dir")
		return
	}
	logPath := filepath.Join(config.LogDir(cfg.StateDir), "mt.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logrus.WithError(err).Warn("mt: could not open log file, logging to stderr only")
		return
	}
	logrus.SetOutput(f)
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if os.Getenv("OS") == "Windows_NT" || os.PathSeparator == '\\' {
		return "powershell.exe"
	}
	return "/bin/sh"
}

func hostForDisplay(bind string) string {
	if bind == "0.0.0.0" || bind == "" {
		return "localhost"
	}
	return bind
}
