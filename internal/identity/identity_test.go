package identity

import (
	"errors"
	"fmt"
	"testing"
)

func TestDerive_Deterministic(t *testing.T) {
	a, err := Derive("user-42", "ML-KEM-768", "encrypt")
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	b, err := Derive("user-42", "ML-KEM-768", "encrypt")
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if a != b {
		t.Errorf("same triple derived different tokens: %q vs %q", a, b)
	}
	if len(a) != TokenLength {
		t.Errorf("token length = %d, want %d", len(a), TokenLength)
	}
	if !Valid(a) {
		t.Errorf("derived token %q fails Valid()", a)
	}
}

func TestDerive_Normalization(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		algorithm string
		operation string
	}{
		{"upper case subject", "USER-42", "ML-KEM-768", "encrypt"},
		{"padded subject", "  user-42  ", "ML-KEM-768", "encrypt"},
		{"lower case algorithm", "user-42", "ml-kem-768", "encrypt"},
		{"upper case operation", "user-42", "ML-KEM-768", "ENCRYPT"},
	}

	want, err := Derive("user-42", "ML-KEM-768", "encrypt")
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Derive(tt.subject, tt.algorithm, tt.operation)
			if err != nil {
				t.Fatalf("Derive() error = %v", err)
			}
			if got != want {
				t.Errorf("normalized triple derived %q, want %q", got, want)
			}
		})
	}
}

func TestDerive_DistinctPerComponent(t *testing.T) {
	base, err := Derive("user-42", "ML-KEM-768", "encrypt")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		subject   string
		algorithm string
		operation string
	}{
		{"different subject", "user-43", "ML-KEM-768", "encrypt"},
		{"different algorithm", "user-42", "ML-DSA-65", "encrypt"},
		{"different operation", "user-42", "ML-KEM-768", "sign"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Derive(tt.subject, tt.algorithm, tt.operation)
			if err != nil {
				t.Fatal(err)
			}
			if got == base {
				t.Errorf("distinct triple derived the same token %q", got)
			}
		})
	}
}

func TestDerive_EmptyInputs(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		algorithm string
		operation string
	}{
		{"empty subject", "", "ML-KEM-768", "encrypt"},
		{"whitespace subject", "   ", "ML-KEM-768", "encrypt"},
		{"empty algorithm", "user-42", "", "encrypt"},
		{"empty operation", "user-42", "ML-KEM-768", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Derive(tt.subject, tt.algorithm, tt.operation)
			if !errors.Is(err, ErrEmptyInput) {
				t.Errorf("expected ErrEmptyInput, got %v", err)
			}
		})
	}
}

func TestDerive_CollisionSample(t *testing.T) {
	// A small distinctness check over a thousand nearby triples. Not a proof,
	// just a regression guard against truncation mistakes.
	seen := make(map[string]string, 1000)
	for i := 0; i < 1000; i++ {
		subject := fmt.Sprintf("user-%d", i)
		token, err := Derive(subject, "ML-KEM-768", "encrypt")
		if err != nil {
			t.Fatal(err)
		}
		if prev, ok := seen[token]; ok {
			t.Fatalf("collision: %q and %q both derive %q", prev, subject, token)
		}
		seen[token] = subject
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid", "0123456789abcdef0123456789abcdef", true},
		{"too short", "0123456789abcdef", false},
		{"too long", "0123456789abcdef0123456789abcdef00", false},
		{"upper case hex", "0123456789ABCDEF0123456789ABCDEF", false},
		{"non hex", "0123456789abcdex0123456789abcdef", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.token); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}
