package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text = %q", got)
	}

	line := strings.Repeat("a", 30) + "\n"
	long := strings.Repeat(line, 10) // 310 runes
	parts := splitTelegramText(long, 100, "")
	if len(parts) < 4 {
		t.Fatalf("parts = %d", len(parts))
	}
	for _, p := range parts {
		if utf8.RuneCountInString(p) > 100 {
			t.Fatalf("part too long: %d", utf8.RuneCountInString(p))
		}
		if strings.HasPrefix(p, "\n") || strings.HasSuffix(p, "\n") {
			t.Fatalf("part has stray newline: %q", p)
		}
	}
	if strings.Join(parts, "\n") != strings.TrimRight(long, "\n") {
		t.Fatal("content lost while splitting on newlines")
	}
}

func TestSplitTelegramTextKeepsTagsWhole(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("x", 98) + "<b>bold</b>" + strings.Repeat("y", 50)
	parts := splitTelegramText(s, 100, "HTML")
	if len(parts) < 2 {
		t.Fatalf("parts = %q", parts)
	}
	if strings.Contains(parts[0], "<") {
		t.Fatalf("first part ends inside a tag: %q", parts[0])
	}
	if !strings.HasPrefix(parts[1], "<b>") {
		t.Fatalf("second part = %q", parts[1])
	}
	if strings.Join(parts, "") != s {
		t.Fatal("content lost")
	}
}

func TestSplitTelegramTextMultibyte(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("é", 250)
	parts := splitTelegramText(s, 100, "")
	if len(parts) != 3 {
		t.Fatalf("parts = %d", len(parts))
	}
	for _, p := range parts {
		if !utf8.ValidString(p) {
			t.Fatal("split inside a rune")
		}
	}
}
