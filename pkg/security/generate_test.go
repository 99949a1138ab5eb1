package security

import (
	"strings"
	"testing"
)

// TestGenerateCategoryGuarantee tests that every enabled category appears
func TestGenerateCategoryGuarantee(t *testing.T) {
	opts := DefaultGenerateOptions()

	// The guarantee must hold every time, not just usually
	for i := 0; i < 50; i++ {
		pw, err := Generate(opts)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(pw) != opts.Length {
			t.Fatalf("Generate() length = %d, want %d", len(pw), opts.Length)
		}
		if !strings.ContainsAny(pw, charsLower) {
			t.Errorf("password %q missing lowercase", pw)
		}
		if !strings.ContainsAny(pw, charsUpper) {
			t.Errorf("password %q missing uppercase", pw)
		}
		if !strings.ContainsAny(pw, charsDigits) {
			t.Errorf("password %q missing digit", pw)
		}
		if !strings.ContainsAny(pw, charsSymbol) {
			t.Errorf("password %q missing symbol", pw)
		}
	}
}

// TestGenerateSubsetCategories tests generation with some categories off
func TestGenerateSubsetCategories(t *testing.T) {
	pw, err := Generate(GenerateOptions{Length: 16, Lower: true, Digits: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.ContainsAny(pw, charsUpper) || strings.ContainsAny(pw, charsSymbol) {
		t.Errorf("password %q contains disabled categories", pw)
	}
}

// TestGenerateRejectsBadOptions tests option validation
func TestGenerateRejectsBadOptions(t *testing.T) {
	if _, err := Generate(GenerateOptions{Length: 20}); err == nil {
		t.Error("Generate() with no categories should fail")
	}
	if _, err := Generate(GenerateOptions{Length: 2, Lower: true, Upper: true, Digits: true}); err == nil {
		t.Error("Generate() with length below category count should fail")
	}
}

// TestGenerateUnique tests that outputs do not repeat
func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pw, err := Generate(DefaultGenerateOptions())
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if seen[pw] {
			t.Fatalf("Generate() repeated %q", pw)
		}
		seen[pw] = true
	}
}
