package cli

import (
	"reflect"
	"testing"
)

// TestHasGlob tests glob metacharacter detection
func TestHasGlob(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"github", false},
		{"git*", true},
		{"g?thub", true},
		{"[gh]ithub", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasGlob(tt.pattern); got != tt.want {
			t.Errorf("HasGlob(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

// TestMatchServices tests glob matching over service names
func TestMatchServices(t *testing.T) {
	services := []string{"GitHub", "GitLab", "Google", "AWS", "GitHub"}

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"prefix glob", "git*", []string{"GitHub", "GitLab"}},
		{"case insensitive", "GIT*", []string{"GitHub", "GitLab"}},
		{"single char", "?WS", []string{"AWS"}},
		{"match all", "*", []string{"AWS", "GitHub", "GitLab", "Google"}},
		{"no matches", "azure*", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchServices(tt.pattern, services)
			if err != nil {
				t.Fatalf("MatchServices() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MatchServices(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

// TestMatchServicesInvalidPattern tests pattern syntax validation
func TestMatchServicesInvalidPattern(t *testing.T) {
	if _, err := MatchServices("[unclosed", []string{"a"}); err == nil {
		t.Error("MatchServices() should reject malformed patterns")
	}
}
