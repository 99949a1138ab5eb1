package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// OnePasswordParser parses 1Password CSV export files.
// 1Password CSV format (9 columns):
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

// 1Password CSV column names (header-based parsing).
const (
	op1ColTitle    = "title"
	op1ColWebsite  = "website"
	op1ColUsername = "username"
	op1ColPassword = "password"
	op1ColOTPAuth  = "otpauth"
	op1ColArchived = "archived"
	op1ColNotes    = "notes"
)

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data.
func (p *OnePasswordParser) Parse(data []byte) (*Result, error) {
	result := &Result{}

	// Strip UTF-8 BOM if present
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true // Handle malformed exports

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	// 1Password capitalizes column names; match case-insensitively.
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	if _, ok := colIndex[op1ColTitle]; !ok {
		return nil, fmt.Errorf("missing required column: Title")
	}

	itemCounter := 1
	rowNum := 1
	for {
		rowNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: failed to parse: %v", rowNum, err))
			continue
		}
		if len(row) != len(header) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: column count mismatch (expected %d, got %d)",
					rowNum, len(header), len(row)))
			continue
		}

		p.parseRow(row, colIndex, result, &itemCounter)
	}

	return result, nil
}

// parseRow converts a single CSV row into a credential.
func (p *OnePasswordParser) parseRow(row []string, colIndex map[string]int, result *Result, itemCounter *int) {
	getValue := func(col string) string {
		if idx, ok := colIndex[col]; ok && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	title := NormalizeValue(getValue(op1ColTitle))
	website := getValue(op1ColWebsite)
	username := getValue(op1ColUsername)
	password := getValue(op1ColPassword)
	otpauth := getValue(op1ColOTPAuth)
	archived := getValue(op1ColArchived)
	noteText := getValue(op1ColNotes)

	if strings.EqualFold(archived, "true") {
		result.Skipped = append(result.Skipped, SkippedItem{
			Name:   title,
			Reason: "archived",
		})
		return
	}

	if username == "" && password == "" && otpauth == "" && noteText == "" {
		result.Skipped = append(result.Skipped, SkippedItem{
			Name:   title,
			Reason: "no usable login data",
		})
		return
	}

	service := title
	if service == "" {
		service = FallbackService(website, *itemCounter)
		*itemCounter++
	}

	notes := noteText
	if otpauth != "" {
		if notes != "" {
			notes += "\n"
		}
		notes += "TOTP seed: " + otpauth
	}

	result.Credentials = append(result.Credentials, Credential{
		Service:  service,
		Username: username,
		Password: password,
		URL:      website,
		Notes:    notes,
	})
}
