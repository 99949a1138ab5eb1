package importer

import (
	"encoding/json"
	"fmt"
)

// BitwardenParser parses Bitwarden JSON export files.
type BitwardenParser struct{}

// Bitwarden item types. Only logins and secure notes carry data this
// vault can hold; cards and identities are skipped with a reason.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

// bitwardenExport represents the top-level Bitwarden export structure.
type bitwardenExport struct {
	Items []bitwardenItem `json:"items"`
}

// bitwardenItem represents a Bitwarden vault item.
type bitwardenItem struct {
	Type  int             `json:"type"`
	Name  string          `json:"name"`
	Notes string          `json:"notes"`
	Login *bitwardenLogin `json:"login"`
}

// bitwardenLogin represents Bitwarden login data.
type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

// bitwardenURI represents a Bitwarden URI entry.
type bitwardenURI struct {
	URI string `json:"uri"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data.
func (p *BitwardenParser) Parse(data []byte) (*Result, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse Bitwarden JSON: %w", err)
	}

	result := &Result{}
	itemCounter := 1
	for _, item := range export.Items {
		p.parseItem(item, result, &itemCounter)
	}
	return result, nil
}

// parseItem converts one export item into a credential.
func (p *BitwardenParser) parseItem(item bitwardenItem, result *Result, itemCounter *int) {
	name := NormalizeValue(item.Name)

	switch item.Type {
	case bitwardenTypeLogin:
		if item.Login == nil {
			result.Skipped = append(result.Skipped, SkippedItem{
				Name:   name,
				Reason: "login item without login data",
			})
			return
		}

		var url string
		if len(item.Login.URIs) > 0 {
			url = item.Login.URIs[0].URI
		}

		service := name
		if service == "" {
			service = FallbackService(url, *itemCounter)
			*itemCounter++
		}

		notes := item.Notes
		if item.Login.TOTP != "" {
			if notes != "" {
				notes += "\n"
			}
			notes += "TOTP seed: " + item.Login.TOTP
		}

		result.Credentials = append(result.Credentials, Credential{
			Service:  service,
			Username: item.Login.Username,
			Password: item.Login.Password,
			URL:      url,
			Notes:    notes,
		})

	case bitwardenTypeSecureNote:
		if IsEmptyOrWhitespace(item.Notes) {
			result.Skipped = append(result.Skipped, SkippedItem{
				Name:   name,
				Reason: "empty secure note",
			})
			return
		}
		service := name
		if service == "" {
			service = FallbackService("", *itemCounter)
			*itemCounter++
		}
		result.Credentials = append(result.Credentials, Credential{
			Service: service,
			Notes:   item.Notes,
		})

	case bitwardenTypeCard, bitwardenTypeIdentity:
		result.Skipped = append(result.Skipped, SkippedItem{
			Name:   name,
			Reason: "cards and identities are not supported",
		})

	default:
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("item %q: unknown type %d", name, item.Type))
	}
}
