package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrSyntax is returned by Unquote for malformed literal text.
var ErrSyntax = errors.New("invalid string literal")

// Quote renders s as a double-quoted literal the host language reads back
// unchanged: short escapes for the usual control characters, \xNN for other
// bytes and invalid UTF-8, \u{X} for non-printable runes. Printable UTF-8
// passes through.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	escape(&b, s, true)
	b.WriteByte('"')
	return b.String()
}

// flatten escapes control and non-printable characters so free text stays
// on one line. Quotes and backslashes are left alone.
func flatten(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { return !unicode.IsPrint(r) && r != ' ' }) {
		return s
	}
	var b strings.Builder
	escape(&b, s, false)
	return b.String()
}

func escape(b *strings.Builder, s string, quoted bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(b, `\x%02x`, s[i])
			i++
			continue
		}
		i += size

		switch r {
		case '"', '\\':
			if quoted {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
			continue
		case '\a':
			b.WriteString(`\a`)
			continue
		case '\b':
			b.WriteString(`\b`)
			continue
		case '\f':
			b.WriteString(`\f`)
			continue
		case '\n':
			b.WriteString(`\n`)
			continue
		case '\r':
			b.WriteString(`\r`)
			continue
		case '\t':
			b.WriteString(`\t`)
			continue
		case '\v':
			b.WriteString(`\v`)
			continue
		}
		switch {
		case r == ' ' || unicode.IsPrint(r):
			b.WriteRune(r)
		case r < utf8.RuneSelf:
			fmt.Fprintf(b, `\x%02x`, r)
		default:
			fmt.Fprintf(b, `\u{%x}`, r)
		}
	}
}

// Unquote reads a single- or double-quoted literal. It accepts the host
// escapes (\a \b \f \n \r \t \v \\ \" \' \xNN \ddd \u{X} \z and an escaped
// line break) plus \uXXXX and \UXXXXXXXX found in older logs.
func Unquote(lit string) (string, error) {
	if len(lit) < 2 || (lit[0] != '"' && lit[0] != '\'') || lit[len(lit)-1] != lit[0] {
		return "", ErrSyntax
	}
	quote := lit[0]
	s := lit[1 : len(lit)-1]

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == quote || c == '\n':
			return "", fmt.Errorf("%w: unescaped %q at %d", ErrSyntax, c, i)
		case c != '\\':
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("%w: trailing backslash", ErrSyntax)
		}
		c = s[i+1]
		i += 2
		switch c {
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n', '\n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case '\\', '"', '\'':
			b.WriteByte(c)
		case 'z':
			for i < len(s) && unicode.IsSpace(rune(s[i])) {
				i++
			}
		case 'x':
			if i+2 > len(s) {
				return "", fmt.Errorf("%w: short \\x escape", ErrSyntax)
			}
			n, err := strconv.ParseUint(s[i:i+2], 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: bad \\x escape", ErrSyntax)
			}
			b.WriteByte(byte(n))
			i += 2
		case 'u', 'U':
			r, n, err := readCodePoint(s[i:], c)
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
			i += n
		default:
			if c < '0' || c > '9' {
				return "", fmt.Errorf("%w: unknown escape \\%c", ErrSyntax, c)
			}
			j := i - 1
			for j < len(s) && j < i+2 && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			n, _ := strconv.Atoi(s[i-1 : j])
			if n > 255 {
				return "", fmt.Errorf("%w: decimal escape out of range", ErrSyntax)
			}
			b.WriteByte(byte(n))
			i = j
		}
	}
	return b.String(), nil
}

// readCodePoint parses what follows \u or \U and reports how many bytes it
// consumed.
func readCodePoint(s string, kind byte) (rune, int, error) {
	var digits string
	var used int
	switch {
	case kind == 'u' && strings.HasPrefix(s, "{"):
		end := strings.IndexByte(s, '}')
		if end < 2 || end > 9 {
			return 0, 0, fmt.Errorf("%w: bad \\u{} escape", ErrSyntax)
		}
		digits, used = s[1:end], end+1
	case kind == 'u' && len(s) >= 4:
		digits, used = s[:4], 4
	case kind == 'U' && len(s) >= 8:
		digits, used = s[:8], 8
	default:
		return 0, 0, fmt.Errorf("%w: short \\%c escape", ErrSyntax, kind)
	}
	n, err := strconv.ParseUint(digits, 16, 32)
	if err != nil || n > unicode.MaxRune {
		return 0, 0, fmt.Errorf("%w: bad \\%c escape", ErrSyntax, kind)
	}
	return rune(n), used, nil
}
