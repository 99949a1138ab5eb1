package security

import "testing"

// TestScoreOrdering tests that obviously better passwords score higher
func TestScoreOrdering(t *testing.T) {
	pairs := []struct {
		weaker, stronger string
	}{
		{"abc", "abcdefgh12"},
		{"password", "C0rrect-Horse-Battery!"},
		{"aaaaaaaaaaaa", "kT9#mQ2xLp4w"},
	}

	for _, p := range pairs {
		if Score(p.weaker) >= Score(p.stronger) {
			t.Errorf("Score(%q) = %d >= Score(%q) = %d", p.weaker, Score(p.weaker), p.stronger, Score(p.stronger))
		}
	}
}

// TestScoreBounds tests the 0-100 clamp
func TestScoreBounds(t *testing.T) {
	if got := Score(""); got != 0 {
		t.Errorf("Score(\"\") = %d, want 0", got)
	}
	long := "Xk9#mQ2pLw4z!Tr7&vB1cN5j@Hs8younique"
	if got := Score(long); got > 100 {
		t.Errorf("Score() = %d, want <= 100", got)
	}
}

// TestClassify tests the strength level thresholds
func TestClassify(t *testing.T) {
	tests := []struct {
		score int
		want  Strength
	}{
		{0, StrengthWeak},
		{39, StrengthWeak},
		{40, StrengthFair},
		{60, StrengthGood},
		{80, StrengthStrong},
		{100, StrengthStrong},
	}

	for _, tt := range tests {
		if got := Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

// TestEstimatePenalties tests repetition and sequence penalties
func TestEstimatePenalties(t *testing.T) {
	// Same length and variety, but one has a repeated run
	plain := "xKq2vTm9"
	runs := "xxxK2vT9"
	if Score(runs) >= Score(plain) {
		t.Errorf("repeated run not penalized: %d >= %d", Score(runs), Score(plain))
	}

	seq := "abcd1234"
	if Score(seq) >= Score(plain) {
		t.Errorf("sequence not penalized: %d >= %d", Score(seq), Score(plain))
	}
}

// TestStrengthString tests the display names
func TestStrengthString(t *testing.T) {
	tests := []struct {
		s    Strength
		want string
	}{
		{StrengthWeak, "Weak"},
		{StrengthFair, "Fair"},
		{StrengthGood, "Good"},
		{StrengthStrong, "Strong"},
		{Strength(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
