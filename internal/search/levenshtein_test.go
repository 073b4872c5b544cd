package search_test

import (
	"math"
	"testing"

	"github.com/orchestr8/resourcehub/internal/search"
)

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"typescript", "typescript", 0},
		{"typescript", "typescrip", 1},
		{"deploy", "deplot", 1},
	}
	for _, tc := range cases {
		if got := search.Levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := search.Similarity("", ""); got != 1 {
		t.Fatalf("identical empties should be 1, got %f", got)
	}
	if got := search.Similarity("abcd", "abcd"); got != 1 {
		t.Fatalf("identical strings should be 1, got %f", got)
	}
	// kitten/sitting: 1 - 3/7
	want := 1 - 3.0/7.0
	if got := search.Similarity("kitten", "sitting"); math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %f, want %f", got, want)
	}
}
