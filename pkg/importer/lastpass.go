package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// LastPassParser parses LastPass CSV export files.
// LastPass CSV format: url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

// LastPass CSV column names (header-based parsing).
const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"
)

// lastPassSecureNoteURL marks Secure Notes in LastPass exports.
const lastPassSecureNoteURL = "http://sn"

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data.
func (p *LastPassParser) Parse(data []byte) (*Result, error) {
	result := &Result{}

	// Strip UTF-8 BOM if present
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true // Handle malformed exports

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		// LastPass uses lowercase column names
		colIndex[strings.ToLower(col)] = i
	}
	if _, ok := colIndex[lpColName]; !ok {
		return nil, fmt.Errorf("missing required column: %s", lpColName)
	}

	itemCounter := 1
	rowNum := 1 // header is row 1
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
func (p *LastPassParser) parseRow(row []string, colIndex map[string]int, result *Result, itemCounter *int) {
	getValue := func(col string) string {
		if idx, ok := colIndex[col]; ok && idx < len(row) {
			// LastPass HTML-encodes special characters in some versions
			return DecodeHTMLEntities(strings.TrimSpace(row[idx]))
		}
		return ""
	}

	name := NormalizeValue(getValue(lpColName))
	url := getValue(lpColURL)
	username := getValue(lpColUsername)
	password := getValue(lpColPassword)
	totp := getValue(lpColTOTP)
	extra := getValue(lpColExtra)

	if url == lastPassSecureNoteURL {
		url = ""
	}

	if username == "" && password == "" && totp == "" && extra == "" {
		result.Skipped = append(result.Skipped, SkippedItem{
			Name:   name,
			Reason: "no usable login data",
		})
		return
	}

	service := name
	if service == "" {
		service = FallbackService(url, *itemCounter)
		*itemCounter++
	}

	notes := extra
	if totp != "" {
		if notes != "" {
			notes += "\n"
		}
		notes += "TOTP seed: " + totp
	}

	result.Credentials = append(result.Credentials, Credential{
		Service:  service,
		Username: username,
		Password: password,
		URL:      url,
		Notes:    notes,
	})
}
