// Package main provides the passvault CLI application.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/passvault/passvault/pkg/audit"
	"github.com/passvault/passvault/pkg/config"
	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
	"github.com/passvault/passvault/pkg/vault"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgFile  string
	cfg      *config.Config
	f        *vault.Facade
	backends []storage.Backend
)

var rootCmd = &cobra.Command{
	Use:   "passvault",
	Short: "passvault is an encrypted local password manager",
	Long:  `A local password vault built with Go. All entries are encrypted with a key derived from your master password; nothing ever leaves your machine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand and wires up the
	// storage backends and the vault facade. The generate command works
	// without a vault, so it skips this.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "generate", "help", "completion":
			return nil
		}
		return setupVault()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardownVault()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.passvault/config.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(changePasswordCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(auditCmd)
}

// setupVault loads configuration, opens the configured backends and
// builds the facade every data command talks to.
func setupVault() error {
	dir, err := config.DefaultDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	path := cfgFile
	if path == "" {
		path = filepath.Join(dir, "config.yaml")
	}
	cfg, err = config.Load(path, dir)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	backend, err := openBackend(logger)
	if err != nil {
		return err
	}

	store := storage.NewStore(backend)
	mirror, _ := backend.(*storage.Mirror)

	auditLog := audit.NewLogger(cfg.App.AuditDir)

	f, err = vault.New(vault.Options{
		Store:            store,
		Provider:         crypto.Select(),
		Mirror:           mirror,
		Audit:            auditLog,
		Logger:           logger,
		SessionTimeout:   cfg.Session.Timeout.Std(),
		ExpiryInterval:   cfg.Session.ExpiryInterval.Std(),
		AttemptThreshold: cfg.Session.AttemptThreshold,
	})
	return err
}

// openBackend opens the configured primary backend, or a mirror over
// both files when redundancy is enabled.
func openBackend(logger *slog.Logger) (storage.Backend, error) {
	if cfg.Storage.Mirror {
		bolt, err := storage.OpenBolt(cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt backend: %w", err)
		}
		backends = append(backends, bolt)

		sqlite, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		backends = append(backends, sqlite)

		return storage.NewMirror(logger, bolt, sqlite)
	}

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		b, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		backends = append(backends, b)
		return b, nil
	default:
		b, err := storage.OpenBolt(cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt backend: %w", err)
		}
		backends = append(backends, b)
		return b, nil
	}
}

func teardownVault() {
	if f != nil {
		f.Close()
		f = nil
	}
	for _, b := range backends {
		_ = b.Close()
	}
	backends = nil
}

// ensureUnlocked ensures the vault is unlocked.
// If locked, prompts for the master password and attempts to unlock.
func ensureUnlocked(cmd *cobra.Command) error {
	if f.IsUnlocked() {
		return nil
	}

	initialized, err := f.Initialized()
	if err != nil {
		return err
	}
	if !initialized {
		return fmt.Errorf("vault not initialized; run 'passvault init' first")
	}

	password, err := readPassword("Enter master password: ")
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(password)

	if err := f.Unlock(cmd.Context(), password); err != nil {
		return fmt.Errorf("failed to unlock vault: %w", err)
	}

	for _, w := range f.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	return nil
}

// readPassword reads a password without echo when stdin is a terminal,
// falling back to a plain line read for piped input.
func readPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return password, nil
	}
	line, err := readLine()
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}

// readLine reads a single line from stdin, trimming the trailing newline.
func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(value, "\r"), nil
}
