package ingestion

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunk_Windows(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 10) + strings.Repeat("b", 10)
	got := Chunk(text, 8, 2)
	want := []string{"aaaaaaaa", "aaaabbbb", "bbbbbbbb"}
	if len(got) != len(want) {
		t.Fatalf("want %d chunks, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestChunk_CountsRunes(t *testing.T) {
	t.Parallel()

	got := Chunk(strings.Repeat("é", 5), 2, 0)
	if len(got) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(got))
	}
	for _, c := range got {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %q is not valid UTF-8", c)
		}
	}
}

func TestChunk_SkipsBlankWindows(t *testing.T) {
	t.Parallel()

	got := Chunk("abc"+strings.Repeat(" ", 10)+"xyz", 4, 0)
	for _, c := range got {
		if strings.TrimSpace(c) == "" || c != strings.TrimSpace(c) {
			t.Errorf("want trimmed, non-empty chunks, got %q", c)
		}
	}
	if got[0] != "abc" || got[len(got)-1] != "xyz" {
		t.Errorf("unexpected chunks %q", got)
	}
}

func TestChunk_EdgeCases(t *testing.T) {
	t.Parallel()

	if got := Chunk("", 10, 2); got != nil {
		t.Errorf("empty text: want nil, got %q", got)
	}
	if got := Chunk("short", 10, 2); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text: want one chunk, got %q", got)
	}
	if got := Chunk("abcdef", 0, 0); got != nil {
		t.Errorf("zero size: want nil, got %q", got)
	}
	// overlap >= size would never advance; chunking stops after one window.
	if got := Chunk("abcdefgh", 3, 5); len(got) != 1 {
		t.Errorf("stalled overlap: want 1 chunk, got %q", got)
	}
}
