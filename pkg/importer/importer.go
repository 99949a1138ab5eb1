// Package importer provides parsers for importing credentials from other
// password managers. Supports 1Password CSV, Bitwarden JSON, and LastPass
// CSV export formats.
package importer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Source represents the source password manager format.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// Credential is one imported login, in vault terms. Password and Notes
// end up encrypted once the credential is added to the vault.
type Credential struct {
	Service  string
	Username string
	Password string
	URL      string
	Notes    string
}

// Result contains the outcome of parsing one export file.
type Result struct {
	// Credentials are the successfully parsed logins.
	Credentials []Credential

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that carried no usable login data.
	Skipped []SkippedItem
}

// SkippedItem names an item that was skipped, with the reason.
type SkippedItem struct {
	Name   string
	Reason string
}

// Parser is the interface for export format parsers.
type Parser interface {
	// Parse parses the export data into credentials.
	Parse(data []byte) (*Result, error)

	// Source returns the source type for this parser.
	Source() Source
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", source)
	}
}

// ValidSources returns the accepted source names.
func ValidSources() []string {
	return []string{
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}

// NormalizeValue trims whitespace and normalizes Unicode to NFC, so
// visually identical names from different exporters compare equal.
func NormalizeValue(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// DecodeHTMLEntities decodes common HTML entities found in LastPass
// exports.
func DecodeHTMLEntities(s string) string {
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&apos;", "'")
	return s
}

// IsEmptyOrWhitespace checks if a string is empty or whitespace only.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// FallbackService derives a service name when the item has none: the URL
// hostname when present, otherwise a counter-based placeholder.
func FallbackService(url string, counter int) string {
	if url != "" {
		if hostname := extractHostname(url); hostname != "" {
			return hostname
		}
	}
	return fmt.Sprintf("imported-item-%d", counter)
}

// extractHostname extracts the hostname from a URL without full parsing.
func extractHostname(urlStr string) string {
	urlStr = strings.TrimPrefix(urlStr, "https://")
	urlStr = strings.TrimPrefix(urlStr, "http://")
	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	if idx := strings.Index(urlStr, ":"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return strings.TrimPrefix(urlStr, "www.")
}
