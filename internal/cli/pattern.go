// Package cli provides shared helpers for the passvault commands.
package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// HasGlob reports whether a query contains glob metacharacters.
func HasGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// MatchServices filters service names against a glob pattern. Matching
// is case-insensitive, like the vault's substring search. The returned
// names are unique and sorted.
func MatchServices(pattern string, services []string) ([]string, error) {
	// Validate pattern syntax up front
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	lowered := strings.ToLower(pattern)
	seen := make(map[string]bool)
	var matches []string
	for _, service := range services {
		matched, err := filepath.Match(lowered, strings.ToLower(service))
		if err != nil {
			return nil, err
		}
		if matched && !seen[service] {
			seen[service] = true
			matches = append(matches, service)
		}
	}

	sort.Strings(matches)
	return matches, nil
}
