package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Character sets for password generation. Symbols exclude quotes and
// backslashes, which tend to break shell copy-paste.
const (
	charsLower  = "abcdefghijklmnopqrstuvwxyz"
	charsUpper  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsDigits = "0123456789"
	charsSymbol = "!@#$%^&*()-_=+[]{}:,.<>?/~"
)

// GenerateOptions selects the character categories for Generate. At
// least one must be enabled.
type GenerateOptions struct {
	Length  int
	Lower   bool
	Upper   bool
	Digits  bool
	Symbols bool
}

// DefaultGenerateOptions is a 20-character password from all categories.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Length: 20, Lower: true, Upper: true, Digits: true, Symbols: true}
}

// Generate produces a random password with at least one character from
// every enabled category, using crypto/rand throughout. The category
// guarantee positions are shuffled away so the layout leaks nothing.
func Generate(opts GenerateOptions) (string, error) {
	var sets []string
	if opts.Lower {
		sets = append(sets, charsLower)
	}
	if opts.Upper {
		sets = append(sets, charsUpper)
	}
	if opts.Digits {
		sets = append(sets, charsDigits)
	}
	if opts.Symbols {
		sets = append(sets, charsSymbol)
	}
	if len(sets) == 0 {
		return "", fmt.Errorf("security: no character categories enabled")
	}
	if opts.Length < len(sets) {
		return "", fmt.Errorf("security: length %d too short for %d categories", opts.Length, len(sets))
	}

	all := ""
	for _, set := range sets {
		all += set
	}

	out := make([]byte, 0, opts.Length)

	// One guaranteed character per enabled category.
	for _, set := range sets {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fill the rest from the combined set.
	for len(out) < opts.Length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates shuffle.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("security: failed to read random: %w", err)
	}
	return int(v.Int64()), nil
}
