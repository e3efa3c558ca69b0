package strength

import (
	"errors"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		wantValid bool
		wantError string
	}{
		{"strong", "Tr0ub4dor&Horse!", true, ""},
		{"too short", "Sh0rt!x", false, "at least 12"},
		{"no upper", "lowercase-only-9", false, "uppercase"},
		{"no lower", "UPPERCASE-ONLY-9", false, "lowercase"},
		{"no digit", "No-Digits-Here!!", false, "numbers"},
		{"common pattern", "MyPassword-2024!", false, "common"},
		{"sequence", "Zx9-abc-Plenty!!", false, "common"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Check(tt.secret)
			if r.Valid() != tt.wantValid {
				t.Fatalf("Valid() = %v, want %v (errors %v)", r.Valid(), tt.wantValid, r.Errors)
			}
			if tt.wantError == "" {
				if err := r.Err(); err != nil {
					t.Errorf("Err() = %v", err)
				}
				return
			}
			if !errors.Is(r.Err(), ErrWeakSecret) {
				t.Errorf("Err() = %v, want ErrWeakSecret", r.Err())
			}
			if !strings.Contains(strings.Join(r.Errors, "|"), tt.wantError) {
				t.Errorf("errors %v do not mention %q", r.Errors, tt.wantError)
			}
		})
	}
}

func TestCheckWarnings(t *testing.T) {
	r := Check("Aaaa1bcdXyzw")
	if !r.Valid() {
		t.Fatalf("expected valid, got %v", r.Errors)
	}

	joined := strings.Join(r.Warnings, "|")
	for _, want := range []string{"16 characters", "special characters", "repeating"} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings %v missing %q", r.Warnings, want)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		secret string
		want   int
	}{
		{"", 0},
		// 16 length + 5 lower + 6 unique - 10 run
		{"aaaabbbc", 17},
		// 32 length + 25 classes + 20 unique (capped)
		{"Tr0ub4dor&Horse!", 77},
		// 50 length (capped) + 25 classes + 8 unique
		{"Ab1!Ab1!Ab1!Ab1!Ab1!Ab1!Ab1!Ab1!", 83},
	}

	for _, tt := range tests {
		if got := Score(tt.secret); got != tt.want {
			t.Errorf("Score(%q) = %d, want %d", tt.secret, got, tt.want)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	if got := Score("password123abc"); got < 0 {
		t.Errorf("Score() = %d, below zero", got)
	}
	if got := Score(strings.Repeat("Xy7!", 40)); got > 100 {
		t.Errorf("Score() = %d, above 100", got)
	}
}

func TestLabel(t *testing.T) {
	if Label(95) != "very strong" || Label(0) != "very weak" || Label(45) != "fair" {
		t.Error("unexpected label mapping")
	}
}

func TestGenerate(t *testing.T) {
	for i := 0; i < 50; i++ {
		pw, err := Generate(DefaultGenerateOptions())
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(pw) != DefaultGeneratedLength {
			t.Fatalf("len = %d, want %d", len(pw), DefaultGeneratedLength)
		}
		for _, set := range []string{lowerSet, upperSet, digitSet, symbolSet} {
			if !strings.ContainsAny(pw, set) {
				t.Fatalf("%q is missing a character from %q", pw, set)
			}
		}
	}
}

func TestGenerateOptions(t *testing.T) {
	pw, err := Generate(GenerateOptions{Length: 32, Digits: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Trim(pw, digitSet) != "" {
		t.Errorf("digits-only password contains other characters: %q", pw)
	}

	if _, err := Generate(GenerateOptions{Length: 8}); !errors.Is(err, ErrNoCharset) {
		t.Errorf("Generate() with no classes error = %v, want ErrNoCharset", err)
	}
	if _, err := Generate(GenerateOptions{Length: MaxGeneratedLength + 1, Lower: true}); err == nil {
		t.Error("Generate() accepted an oversized length")
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pw, _ := Generate(DefaultGenerateOptions())
		if seen[pw] {
			t.Fatalf("duplicate password %q", pw)
		}
		seen[pw] = true
	}
}
