// Package strength holds the master secret policy, a 0-100 strength score
// and a random password generator for vault records.
package strength

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	MinLength         = 12
	RecommendedLength = 16
	symbols           = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?"
)

var ErrWeakSecret = errors.New("master secret does not meet the policy")

var commonPatterns = []string{"123", "abc", "qwe", "password", "admin"}

// Result is the outcome of Check. Errors block the secret; warnings are
// advice.
type Result struct {
	Errors   []string
	Warnings []string
	Score    int
}

func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns nil for a valid result, otherwise ErrWeakSecret listing the
// failed rules.
func (r *Result) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrWeakSecret, strings.Join(r.Errors, "; "))
}

func Check(secret string) *Result {
	r := &Result{Score: Score(secret)}

	if len([]rune(secret)) < MinLength {
		r.Errors = append(r.Errors, fmt.Sprintf("must be at least %d characters long", MinLength))
	}
	if len([]rune(secret)) < RecommendedLength {
		r.Warnings = append(r.Warnings, fmt.Sprintf("consider using at least %d characters", RecommendedLength))
	}
	if strings.IndexFunc(secret, unicode.IsLower) < 0 {
		r.Errors = append(r.Errors, "must contain lowercase letters")
	}
	if strings.IndexFunc(secret, unicode.IsUpper) < 0 {
		r.Errors = append(r.Errors, "must contain uppercase letters")
	}
	if !hasDigit(secret) {
		r.Errors = append(r.Errors, "must contain numbers")
	}
	if !strings.ContainsAny(secret, symbols) {
		r.Warnings = append(r.Warnings, "consider adding special characters")
	}
	if hasRun(secret, 3) {
		r.Warnings = append(r.Warnings, "avoid repeating characters")
	}
	if hasCommonPattern(secret) {
		r.Errors = append(r.Errors, "avoid common words and patterns")
	}

	return r
}

// Validate is Check(secret).Err().
func Validate(secret string) error {
	return Check(secret).Err()
}

// Score rates secret from 0 to 100 on length, character classes and
// distinct characters, with penalties for runs and common patterns.
func Score(secret string) int {
	runes := []rune(secret)
	score := min(len(runes)*2, 50)

	if strings.IndexFunc(secret, unicode.IsLower) >= 0 {
		score += 5
	}
	if strings.IndexFunc(secret, unicode.IsUpper) >= 0 {
		score += 5
	}
	if hasDigit(secret) {
		score += 5
	}
	if strings.ContainsAny(secret, symbols) {
		score += 10
	}

	unique := make(map[rune]struct{}, len(runes))
	for _, c := range runes {
		unique[c] = struct{}{}
	}
	score += min(len(unique)*2, 20)

	if hasRun(secret, 3) {
		score -= 10
	}
	if hasCommonPattern(secret) {
		score -= 20
	}

	return max(0, min(100, score))
}

// Label maps a score to a coarse rating.
func Label(score int) string {
	switch {
	case score >= 80:
		return "very strong"
	case score >= 60:
		return "strong"
	case score >= 40:
		return "fair"
	case score >= 20:
		return "weak"
	default:
		return "very weak"
	}
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
}

// hasRun reports whether any character repeats n or more times in a row.
func hasRun(s string, n int) bool {
	var prev rune
	count := 0
	for i, c := range s {
		if i > 0 && c == prev {
			count++
		} else {
			count = 1
		}
		if count >= n {
			return true
		}
		prev = c
	}
	return false
}

func hasCommonPattern(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range commonPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
