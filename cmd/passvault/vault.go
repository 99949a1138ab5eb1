package main

import (
	"fmt"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/security"

	"github.com/spf13/cobra"
)

// initCmd sets up a new vault with a master password.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes a new password vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		initialized, err := f.Initialized()
		if err != nil {
			return err
		}
		if initialized {
			return fmt.Errorf("vault already initialized")
		}

		fmt.Println("Initializing new vault...")

		password, err := promptNewPassword("master password")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		if err := f.Unlock(cmd.Context(), password); err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}
		defer f.Lock()

		fmt.Printf("Vault initialized (cipher: %s)\n", f.CipherName())
		return nil
	},
}

// promptNewPassword prompts for a password twice and reports its strength.
// Weak passwords are allowed with a warning; the length floor is enforced
// by the vault itself.
func promptNewPassword(what string) ([]byte, error) {
	password1, err := readPassword(fmt.Sprintf("Enter %s: ", what))
	if err != nil {
		return nil, err
	}

	password2, err := readPassword(fmt.Sprintf("Confirm %s: ", what))
	if err != nil {
		crypto.SecureWipe(password1)
		return nil, err
	}
	defer crypto.SecureWipe(password2)

	if !crypto.ConstantTimeEqual(password1, password2) {
		crypto.SecureWipe(password1)
		return nil, fmt.Errorf("passwords do not match")
	}

	strength := security.Estimate(string(password1))
	fmt.Printf("Password strength: %s\n", strength)
	if strength == security.StrengthWeak {
		fmt.Println("Warning: this password is weak; consider a longer one")
	}
	return password1, nil
}

// changePasswordCmd rotates the master password.
var changePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change the master password",
	Long: `Change the master password. Every entry is re-encrypted under a key
derived from the new password with a fresh salt, so material encrypted
under the old password cannot be read even if the old password leaks.

The change is atomic: either fully succeeds or has no effect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer f.Lock()

		oldPassword, err := readPassword("Enter current password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(oldPassword)

		newPassword, err := promptNewPassword("new password")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(newPassword)

		if err := f.ChangeMasterPassword(oldPassword, newPassword); err != nil {
			return fmt.Errorf("failed to change master password: %w", err)
		}

		fmt.Println("Master password changed")
		return nil
	},
}

// resetCmd destroys the vault after double confirmation.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the vault and all entries",
	Long: `Deletes every entry and the vault's key material. This is the
recovery path when the master password is lost. It cannot be undone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("This will permanently delete ALL entries in the vault.")
		fmt.Print("Type 'reset' to continue: ")
		typed, err := readLine()
		if err != nil {
			return err
		}
		if typed != "reset" {
			fmt.Println("Aborted")
			return nil
		}

		fmt.Print("Are you absolutely sure? [y/N]: ")
		answer, err := readLine()
		if err != nil {
			return err
		}
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}

		if err := f.ResetVault(true); err != nil {
			return fmt.Errorf("failed to reset vault: %w", err)
		}

		fmt.Println("Vault reset. Run 'passvault init' to start over.")
		return nil
	},
}

// statusCmd reports vault state without requiring the password.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	RunE: func(cmd *cobra.Command, args []string) error {
		initialized, err := f.Initialized()
		if err != nil {
			return err
		}

		fmt.Printf("Initialized: %v\n", initialized)
		fmt.Printf("State:       %s\n", f.State())
		fmt.Printf("Cipher:      %s\n", f.CipherName())
		fmt.Printf("Backend:     %s\n", cfg.Storage.Backend)
		if cfg.Storage.Mirror {
			fmt.Println("Redundancy:  mirrored")
		}

		if initialized {
			attempts, err := f.FailedAttempts()
			if err != nil {
				return err
			}
			if attempts > 0 {
				fmt.Printf("Failed unlock attempts: %d\n", attempts)
			}
		}

		for _, w := range f.Warnings() {
			fmt.Printf("Warning: %s\n", w)
		}
		return nil
	},
}
