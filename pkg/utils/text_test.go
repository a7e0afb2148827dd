package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTrimAtSpace(t *testing.T) {
	if got := TrimAtSpace("  hello  ", 10); got != "hello" {
		t.Errorf("short string should only be stripped, got %q", got)
	}
	if got := TrimAtSpace("hello brave new world", 13); got != "hello brave..." {
		t.Errorf("got %q", got)
	}
	if got := TrimAtSpace("abcdefghij", 4); got != "abcd..." {
		t.Errorf("no space in cut should keep the hard cut, got %q", got)
	}
	if got := TrimAtSpace("x", 0); got != "x" {
		t.Errorf("limit 0 returns as-is, got %q", got)
	}
	long := strings.Repeat("word ", 400)
	got := TrimAtSpace(long, 1200)
	if len(got) > 1203 || !strings.HasSuffix(got, "...") {
		t.Errorf("long text not bounded: len=%d", len(got))
	}
	if strings.Contains(got, "wor...") {
		t.Errorf("cut inside a word: %q", got[len(got)-10:])
	}

	// Each of these characters is three bytes; the limit counts characters.
	cjk := strings.Repeat("検索 ", 500)
	got = TrimAtSpace(cjk, 1200)
	if n := utf8.RuneCountInString(got); n < 1190 || n > 1203 {
		t.Errorf("multibyte text cut to %d characters, want about 1200", n)
	}
	if !strings.HasSuffix(got, "検索...") {
		t.Errorf("multibyte cut should end on a whole word: %q", got[len(got)-12:])
	}
	if got := TrimAtSpace("héllo wörld", 8); got != "héllo..." {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	if got := NormalizeWhitespace("  what   is\n\tRAG ? "); got != "what is RAG ?" {
		t.Errorf("got %q", got)
	}
}

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":        "report.pdf",
		"../../etc/passwd":  "passwd",
		"my file (1).txt":   "my_file_1_.txt",
		`C:\docs\notes.md`:  "notes.md",
		"":                  "upload",
		"...":               "upload",
	}
	for in, want := range cases {
		if got := SecureFilename(in, "upload"); got != want {
			t.Errorf("SecureFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
