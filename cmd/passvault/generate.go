package main

import (
	"fmt"

	"github.com/passvault/passvault/pkg/security"

	"github.com/spf13/cobra"
)

const (
	minGenerateLength     = 8
	maxGenerateLength     = 256
	defaultGenerateLength = 20
	maxGenerateCount      = 100
)

// Generate command flags
var (
	generateLength      int
	generateCount       int
	generateNoSymbols   bool
	generateNoNumbers   bool
	generateNoUppercase bool
	generateNoLowercase bool
	generateStrength    bool
)

func init() {
	generateCmd.Flags().IntVarP(&generateLength, "length", "l", defaultGenerateLength, "Password length (8-256)")
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 1, "Number of passwords to generate (1-100)")
	generateCmd.Flags().BoolVar(&generateNoSymbols, "no-symbols", false, "Exclude symbols")
	generateCmd.Flags().BoolVar(&generateNoNumbers, "no-numbers", false, "Exclude numbers")
	generateCmd.Flags().BoolVar(&generateNoUppercase, "no-uppercase", false, "Exclude uppercase letters")
	generateCmd.Flags().BoolVar(&generateNoLowercase, "no-lowercase", false, "Exclude lowercase letters")
	generateCmd.Flags().BoolVarP(&generateStrength, "strength", "s", false, "Show strength estimate for each password")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate secure random passwords",
	Long: `Generate cryptographically secure random passwords. Works without a
vault, so it never prompts for the master password.

Examples:
  # Generate a 20-character password (default)
  passvault generate

  # Generate a 32-character password without symbols
  passvault generate -l 32 --no-symbols

  # Generate 5 passwords with strength estimates
  passvault generate -n 5 -s`,
	RunE: executeGenerate,
}

func executeGenerate(cmd *cobra.Command, args []string) error {
	if generateLength < minGenerateLength {
		return fmt.Errorf("password length must be at least %d characters", minGenerateLength)
	}
	if generateLength > maxGenerateLength {
		return fmt.Errorf("password length must be at most %d characters", maxGenerateLength)
	}
	if generateCount < 1 || generateCount > maxGenerateCount {
		return fmt.Errorf("count must be between 1 and %d", maxGenerateCount)
	}

	opts := security.GenerateOptions{
		Length:  generateLength,
		Lower:   !generateNoLowercase,
		Upper:   !generateNoUppercase,
		Digits:  !generateNoNumbers,
		Symbols: !generateNoSymbols,
	}

	for i := 0; i < generateCount; i++ {
		password, err := security.Generate(opts)
		if err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}
		if generateStrength {
			fmt.Printf("%s\t%s\n", password, security.Estimate(password))
		} else {
			fmt.Println(password)
		}
	}
	return nil
}
