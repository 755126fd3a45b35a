package value

import (
	"errors"
	"testing"
)

func TestQuoteRoundTrip(t *testing.T) {
	for _, s := range []string{
		"",
		"plain",
		"say \"hi\"\n\ttab\\",
		"a\u200bb",
		"\x00\x01\x7f",
		"café 世界",
		"bad \xff utf8",
		"\a\b\f\v\r",
	} {
		q := Quote(s)
		got, err := Unquote(q)
		if err != nil {
			t.Fatalf("Unquote(%s): %v", q, err)
		}
		if got != s {
			t.Errorf("Unquote(Quote(%q)) = %q", s, got)
		}
	}
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"a\u{48}b"`, "aHb"},
		{`"\u{1F600}"`, "\U0001F600"},
		{`"\072\65\9"`, "HA\t"},
		{`"\x41\x62"`, "Ab"},
		{"\"one \\z  \n  two\"", "one two"},
		{"\"line\\\nbreak\"", "line\nbreak"},
		{`'it\'s'`, "it's"},
		{`'say "x"'`, `say "x"`},
		{"\"\u200b\"", "\u200b"},
		{`"\U0001F600"`, "\U0001F600"},
	}
	for _, tt := range tests {
		got, err := Unquote(tt.in)
		if err != nil {
			t.Errorf("Unquote(%s): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Unquote(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnquoteErrors(t *testing.T) {
	for _, in := range []string{
		`x`,
		`"open`,
		`"mixed'`,
		`"a"b"`,
		`"\q"`,
		`"\x4"`,
		`"\256"`,
		`"\u{}"`,
		`"\u{110000}"`,
		"\"raw\nnewline\"",
		`"trailing\"`,
	} {
		if _, err := Unquote(in); !errors.Is(err, ErrSyntax) {
			t.Errorf("Unquote(%s) = %v, want ErrSyntax", in, err)
		}
	}
}
