package tui

import (
	"testing"
	"unicode/utf8"
)

func TestTruncKeepsRunesIntact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		w    int
		want string
	}{
		{"fits untouched", "plain", 10, "plain"},
		{"ascii cut", "abcdef", 4, "abc…"},
		{"accented hostname", "héllo-wörld", 6, "héllo…"},
		{"wide runes", "日本語ホスト", 4, "日…"},
		{"tiny width", "日本", 1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trunc(tt.in, tt.w)
			if !utf8.ValidString(got) {
				t.Fatalf("trunc(%q, %d) produced invalid UTF-8: %q", tt.in, tt.w, got)
			}
			if got != tt.want {
				t.Errorf("trunc(%q, %d) = %q, want %q", tt.in, tt.w, got, tt.want)
			}
		})
	}
}
