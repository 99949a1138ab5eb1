package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/passvault/passvault/internal/cli"
	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/security"
	"github.com/passvault/passvault/pkg/vault"

	"github.com/spf13/cobra"
)

// Flags for the add command.
var (
	addUsername string
	addURL      string
	addNotes    string
	addGenerate bool
)

// Flags for the update command.
var (
	updateService  string
	updateUsername string
	updateURL      string
	updateNotes    string
	updatePassword bool
)

func init() {
	addCmd.Flags().StringVarP(&addUsername, "username", "u", "", "Account username or email")
	addCmd.Flags().StringVar(&addURL, "url", "", "Website or service URL")
	addCmd.Flags().StringVar(&addNotes, "notes", "", "Free-form notes (encrypted)")
	addCmd.Flags().BoolVarP(&addGenerate, "generate", "g", false, "Generate the password instead of prompting")

	updateCmd.Flags().StringVar(&updateService, "service", "", "New service name")
	updateCmd.Flags().StringVarP(&updateUsername, "username", "u", "", "New username")
	updateCmd.Flags().StringVar(&updateURL, "url", "", "New URL")
	updateCmd.Flags().StringVar(&updateNotes, "notes", "", "New notes")
	updateCmd.Flags().BoolVarP(&updatePassword, "password", "p", false, "Prompt for a new password")
}

// parseEntryID parses a positional entry id argument.
func parseEntryID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid entry id %q", arg)
	}
	return id, nil
}

// addCmd stores a new credential.
var addCmd = &cobra.Command{
	Use:   "add [service]",
	Short: "Adds a new credential entry",
	Long: `Adds a credential for a service. The password is read without echo,
or generated with --generate. Password and notes are encrypted; service,
username and URL stay searchable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := args[0]

		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		var password string
		if addGenerate {
			generated, err := security.Generate(security.DefaultGenerateOptions())
			if err != nil {
				return fmt.Errorf("failed to generate password: %w", err)
			}
			password = generated
			fmt.Printf("Generated password: %s\n", password)
		} else {
			passwordBytes, err := readPassword("Enter password for entry: ")
			if err != nil {
				return err
			}
			defer crypto.SecureWipe(passwordBytes)
			password = string(passwordBytes)
		}

		id, err := f.AddEntry(service, addUsername, password, addURL, addNotes)
		if err != nil {
			return fmt.Errorf("failed to add entry: %w", err)
		}

		fmt.Printf("Entry %d added for '%s'\n", id, service)
		return nil
	},
}

// listCmd lists all entries without revealing secrets.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists all entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		entries, failures, err := f.ListEntries()
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}

		printEntries(entries, failures)
		return nil
	},
}

// searchCmd finds entries by service or username substring.
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Searches entries by service or username",
	Long: `Searches entries. A plain query matches as a case-insensitive
substring of the service or username. A query with glob characters
(*?[) matches service names as a pattern instead:

  passvault search github
  passvault search 'git*'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		var entries []vault.Entry
		var failures []vault.EntryError
		var err error
		if cli.HasGlob(args[0]) {
			entries, failures, err = searchByGlob(args[0])
		} else {
			entries, failures, err = f.SearchEntries(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to search entries: %w", err)
		}

		if len(entries) == 0 && len(failures) == 0 {
			fmt.Println("No entries found")
			return nil
		}
		printEntries(entries, failures)
		return nil
	},
}

// searchByGlob lists everything and keeps the entries whose service
// name matches the pattern.
func searchByGlob(pattern string) ([]vault.Entry, []vault.EntryError, error) {
	all, failures, err := f.ListEntries()
	if err != nil {
		return nil, nil, err
	}

	services := make([]string, 0, len(all))
	for _, e := range all {
		services = append(services, e.Service)
	}
	matched, err := cli.MatchServices(pattern, services)
	if err != nil {
		return nil, nil, err
	}

	keep := make(map[string]bool, len(matched))
	for _, s := range matched {
		keep[s] = true
	}
	var entries []vault.Entry
	for _, e := range all {
		if keep[e.Service] {
			entries = append(entries, e)
		}
	}
	return entries, failures, nil
}

func printEntries(entries []vault.Entry, failures []vault.EntryError) {
	if len(entries) == 0 && len(failures) == 0 {
		fmt.Println("No entries stored")
		return
	}
	for _, e := range entries {
		line := fmt.Sprintf("%d\t%s", e.ID, e.Service)
		if e.Username != "" {
			line += "\t" + e.Username
		}
		if e.URL != "" {
			line += "\t" + e.URL
		}
		fmt.Println(line)
	}
	for _, fe := range failures {
		fmt.Fprintf(os.Stderr, "Warning: entry %d could not be decrypted: %v\n", fe.ID, fe.Err)
	}
}

// showCmd prints a single entry including the password.
var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Shows a single entry including its password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntryID(args[0])
		if err != nil {
			return err
		}

		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		entry, err := f.GetEntry(id)
		if err != nil {
			if errors.Is(err, vault.ErrEntryNotFound) {
				return fmt.Errorf("entry %d not found", id)
			}
			return fmt.Errorf("failed to get entry: %w", err)
		}

		fmt.Printf("ID:       %d\n", entry.ID)
		fmt.Printf("Service:  %s\n", entry.Service)
		if entry.Username != "" {
			fmt.Printf("Username: %s\n", entry.Username)
		}
		fmt.Printf("Password: %s\n", entry.Password)
		if entry.URL != "" {
			fmt.Printf("URL:      %s\n", entry.URL)
		}
		if entry.Notes != "" {
			fmt.Printf("Notes:    %s\n", entry.Notes)
		}
		fmt.Printf("Created:  %s\n", entry.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Updated:  %s\n", entry.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

// updateCmd modifies fields of an existing entry.
var updateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Updates fields of an entry",
	Long: `Updates an entry. Only the fields given as flags change; everything
else is left as is. Use --password to be prompted for a new password.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntryID(args[0])
		if err != nil {
			return err
		}

		upd := vault.EntryUpdate{}
		if cmd.Flags().Changed("service") {
			upd.Service = &updateService
		}
		if cmd.Flags().Changed("username") {
			upd.Username = &updateUsername
		}
		if cmd.Flags().Changed("url") {
			upd.URL = &updateURL
		}
		if cmd.Flags().Changed("notes") {
			upd.Notes = &updateNotes
		}
		if upd.Service == nil && upd.Username == nil && upd.URL == nil && upd.Notes == nil && !updatePassword {
			return fmt.Errorf("nothing to update (see --help for flags)")
		}

		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		if updatePassword {
			passwordBytes, err := readPassword("Enter new password for entry: ")
			if err != nil {
				return err
			}
			defer crypto.SecureWipe(passwordBytes)
			password := string(passwordBytes)
			upd.Password = &password
		}

		found, err := f.UpdateEntry(id, upd)
		if err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}
		if !found {
			return fmt.Errorf("entry %d not found", id)
		}

		fmt.Printf("Entry %d updated\n", id)
		return nil
	},
}

// deleteCmd removes an entry.
var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Deletes an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntryID(args[0])
		if err != nil {
			return err
		}

		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		found, err := f.DeleteEntry(id)
		if err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		if !found {
			return fmt.Errorf("entry %d not found", id)
		}

		fmt.Printf("Entry %d deleted\n", id)
		return nil
	},
}
