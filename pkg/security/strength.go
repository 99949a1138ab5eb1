// Package security provides password strength estimation and secure
// password generation for passvault.
package security

import "strings"

// Strength represents the estimated strength of a password.
type Strength int

const (
	// StrengthWeak indicates an insecure password.
	StrengthWeak Strength = iota
	// StrengthFair indicates a minimally acceptable password.
	StrengthFair
	// StrengthGood indicates a good password.
	StrengthGood
	// StrengthStrong indicates a strong password.
	StrengthStrong
)

// String returns a human-readable representation of the strength level.
func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "Weak"
	case StrengthFair:
		return "Fair"
	case StrengthGood:
		return "Good"
	case StrengthStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Score estimates password strength on a 0-100 scale. Length dominates
// per NIST SP 800-63B; character variety adds, obvious repetition and
// straight sequences subtract.
func Score(password string) int {
	if password == "" {
		return 0
	}

	score := 0

	// Length: up to 50 points, saturating at 25 characters.
	length := len(password)
	score += min(length*2, 50)

	// Variety: up to 40 points across four categories.
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, c := range password {
		switch {
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case c >= '0' && c <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	for _, has := range []bool{hasLower, hasUpper, hasDigit, hasSymbol} {
		if has {
			score += 10
		}
	}

	// Penalties for runs of the same character and keyboard sequences.
	if hasRepeatedRun(password, 3) {
		score -= 15
	}
	if hasSequence(password, 4) {
		score -= 15
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Classify maps a 0-100 score to a strength level.
func Classify(score int) Strength {
	switch {
	case score >= 80:
		return StrengthStrong
	case score >= 60:
		return StrengthGood
	case score >= 40:
		return StrengthFair
	default:
		return StrengthWeak
	}
}

// Estimate is Score followed by Classify.
func Estimate(password string) Strength {
	return Classify(Score(password))
}

// hasRepeatedRun reports a run of n or more identical characters.
func hasRepeatedRun(s string, n int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// hasSequence reports an ascending or descending run of n or more
// consecutive characters ("abcd", "4321").
func hasSequence(s string, n int) bool {
	low := strings.ToLower(s)
	asc, desc := 1, 1
	for i := 1; i < len(low); i++ {
		if low[i] == low[i-1]+1 {
			asc++
			desc = 1
		} else if low[i] == low[i-1]-1 {
			desc++
			asc = 1
		} else {
			asc, desc = 1, 1
		}
		if asc >= n || desc >= n {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
