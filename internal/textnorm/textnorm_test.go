package textnorm

import (
	"reflect"
	"testing"
)

func TestTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		text   string
		minLen int
		want   []string
	}{
		{
			name:   "dedupes preserving order",
			text:   "Binance Exchange, Trust Wallet! Binance",
			minLen: 1,
			want:   []string{"binance", "exchange", "trust", "wallet"},
		},
		{
			name:   "keeps email-like tokens intact",
			text:   "Contact us at support@example.com or visit example.com/contact",
			minLen: 1,
			want:   []string{"contact", "us", "at", "support@example.com", "or", "visit", "example.com"},
		},
		{
			name:   "respects min length",
			text:   "A b cd",
			minLen: 2,
			want:   []string{"cd"},
		},
		{
			name:   "strips edge punctuation after lowering",
			text:   "'Quoted' trailing-dash- .dotted.",
			minLen: 1,
			want:   []string{"quoted", "trailing-dash", "dotted"},
		},
		{
			name:   "empty input",
			text:   "",
			minLen: 1,
			want:   nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Tokens(tc.text, tc.minLen)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Tokens(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestFieldTokens(t *testing.T) {
	t.Parallel()

	fields := []string{"Trust Wallet", "Wallet address", "trust@example.com"}
	want := []string{"trust", "wallet", "address", "trust@example.com"}
	if got := FieldTokens(fields, 1); !reflect.DeepEqual(got, want) {
		t.Errorf("FieldTokens = %v, want %v", got, want)
	}
}
