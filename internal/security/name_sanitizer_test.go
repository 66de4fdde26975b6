package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeName(t *testing.T) {
	s := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Alice", "Alice"},
		{"trim", "  Alice  ", "Alice"},
		{"collapse whitespace", "Alice \t\n Smith", "Alice Smith"},
		{"japanese", "山田 太郎", "山田 太郎"},
		{"strip tags", "<b>Bold</b> Name", "Bold Name"},
		{"strip script", "<script>alert(1)</script>Eve", "Eve"},
		{"ampersand kept", "Tom & Jerry", "Tom & Jerry"},
		{"escaped tag not revived", "&lt;img src=x&gt;Mallory", "img src=xMallory"},
		{"control chars", "Al\x07i\x1bce", "Alice"},
		{"only markup", "<br/><hr>", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeName(tt.input); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeName_TruncatesLongNames(t *testing.T) {
	s := NewNameSanitizer()

	got := s.SanitizeName(strings.Repeat("あ", MaxNameLength+50))
	if n := utf8.RuneCountInString(got); n != MaxNameLength {
		t.Errorf("rune count = %d, want %d", n, MaxNameLength)
	}
}

func TestSanitizeName_Idempotent(t *testing.T) {
	s := NewNameSanitizer()
	inputs := []string{"<i>Ann</i>  Lee", "Tom & Jerry", "  spaced   out  "}
	for _, in := range inputs {
		once := s.SanitizeName(in)
		if twice := s.SanitizeName(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNameSanitizerInterface(t *testing.T) {
	var _ NameSanitizer = NewNameSanitizer()
}
