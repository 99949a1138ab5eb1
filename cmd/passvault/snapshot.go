package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/importer"
	"github.com/passvault/passvault/pkg/vault"

	"github.com/spf13/cobra"
)

// Import command flags
var importFrom string

func init() {
	importCmd.Flags().StringVar(&importFrom, "from", "",
		"Import from another password manager instead of a snapshot ("+strings.Join(importer.ValidSources(), ", ")+")")
}

// exportCmd writes an encrypted snapshot of the whole vault.
var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Exports an encrypted snapshot of the vault",
	Long: `Writes every entry, including soft-deleted ones, to a single
encrypted snapshot file. The snapshot carries its own key derivation
salt, so it can be imported on another machine knowing only the
snapshot password.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		password, err := promptNewPassword("snapshot password")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		blob, err := f.ExportSnapshot(password)
		if err != nil {
			return fmt.Errorf("failed to export snapshot: %w", err)
		}

		if err := os.WriteFile(path, blob, 0o600); err != nil {
			return fmt.Errorf("failed to write snapshot file: %w", err)
		}

		fmt.Printf("Snapshot written to %s (%d bytes)\n", path, len(blob))
		return nil
	},
}

// importCmd restores the vault from an encrypted snapshot.
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Imports an encrypted snapshot, replacing all entries",
	Long: `Restores the vault from a snapshot file. The snapshot is verified
in full before anything is touched; on any corruption or a wrong
snapshot password the vault is left exactly as it was. Import REPLACES
the current entries.

With --from, imports an export file from another password manager
instead. Those imports ADD entries and never touch existing ones.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		blob, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		if importFrom != "" {
			return importCompetitor(importFrom, blob)
		}

		fmt.Println("Importing replaces every entry currently in the vault.")
		fmt.Print("Continue? [y/N]: ")
		answer, err := readLine()
		if err != nil {
			return err
		}
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}

		password, err := readPassword("Enter snapshot password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		if err := f.ImportSnapshot(blob, password); err != nil {
			if errors.Is(err, vault.ErrSnapshotCorrupt) {
				return fmt.Errorf("snapshot rejected: %w", err)
			}
			return fmt.Errorf("failed to import snapshot: %w", err)
		}

		fmt.Println("Snapshot imported")
		return nil
	},
}

// importCompetitor parses an export from another password manager and
// adds every parsed credential as a fresh entry.
func importCompetitor(source string, data []byte) error {
	parser, err := importer.GetParser(importer.Source(source))
	if err != nil {
		return err
	}

	result, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s export: %w", source, err)
	}

	added := 0
	for _, c := range result.Credentials {
		if _, err := f.AddEntry(c.Service, c.Username, c.Password, c.URL, c.Notes); err != nil {
			return fmt.Errorf("failed to add entry for %q: %w", c.Service, err)
		}
		added++
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	for _, s := range result.Skipped {
		fmt.Fprintf(os.Stderr, "Skipped %q: %s\n", s.Name, s.Reason)
	}
	fmt.Printf("Imported %d entries from %s\n", added, source)
	return nil
}
