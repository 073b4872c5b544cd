package search_test

import (
	"reflect"
	"testing"

	"github.com/orchestr8/resourcehub/internal/search"
)

func TestExtractKeywords(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "lowercases and splits",
			in:   "Build TypeScript API",
			want: []string{"build", "typescript", "api"},
		},
		{
			name: "drops stop words and short tokens",
			in:   "how do I set up a server",
			want: []string{"how", "set", "up", "server"},
		},
		{
			name: "keeps hyphens, strips punctuation",
			in:   "rate-limiting (token/bucket)!",
			want: []string{"rate-limiting", "token", "bucket"},
		},
		{
			name: "deduplicates preserving order",
			in:   "cache the cache layer",
			want: []string{"cache", "layer"},
		},
		{
			name: "empty input",
			in:   "",
			want: nil,
		},
		{
			name: "only stop words",
			in:   "the and of",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := search.ExtractKeywords(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}
