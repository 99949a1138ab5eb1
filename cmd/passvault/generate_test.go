package main

import "testing"

// TestGenerateFlagValidation tests the length and count bounds
func TestGenerateFlagValidation(t *testing.T) {
	saveLength, saveCount := generateLength, generateCount
	defer func() { generateLength, generateCount = saveLength, saveCount }()

	tests := []struct {
		name    string
		length  int
		count   int
		wantErr bool
	}{
		{"defaults", defaultGenerateLength, 1, false},
		{"too short", 4, 1, true},
		{"too long", 500, 1, true},
		{"zero count", 20, 0, true},
		{"count too high", 20, 1000, true},
		{"max length", maxGenerateLength, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generateLength = tt.length
			generateCount = tt.count
			err := executeGenerate(generateCmd, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("executeGenerate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestParseEntryID tests positional id parsing
func TestParseEntryID(t *testing.T) {
	if id, err := parseEntryID("42"); err != nil || id != 42 {
		t.Errorf("parseEntryID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"0", "-1", "abc", ""} {
		if _, err := parseEntryID(bad); err == nil {
			t.Errorf("parseEntryID(%q) should fail", bad)
		}
	}
}
