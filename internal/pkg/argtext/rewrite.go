package argtext

import (
	"fmt"
	"strings"

	"github.com/coffersTech/callspy/internal/value"
)

// Rewrite turns encoded argument text into source the host can evaluate:
// node references become resolve("path") calls, the destroyed and function
// markers become nil, and other placeholders become nil with the original
// kept in a comment. String literals are re-quoted in host syntax.
func Rewrite(text string) (string, error) {
	var b strings.Builder
	l := NewLexer(text)
	last := 0
	for {
		tok := l.NextToken()
		switch tok.Type {
		case TokenEOF:
			b.WriteString(text[last:])
			return b.String(), nil
		case TokenIllegal:
			return "", fmt.Errorf("at offset %d: %s", tok.Pos, tok.Value)
		case TokenNodeRef:
			b.WriteString(text[last:tok.Pos])
			b.WriteString("resolve(" + value.Quote(tok.Value) + ")")
			last = tok.End
		case TokenString:
			b.WriteString(text[last:tok.Pos])
			b.WriteString(value.Quote(tok.Value))
			last = tok.End
		case TokenPlaceholder:
			b.WriteString(text[last:tok.Pos])
			b.WriteString("nil")
			if tok.Value != destroyedMarker && tok.Value != functionMarker {
				b.WriteString(" --[[" + strings.ReplaceAll(tok.Value, "]]", "] ]") + "]]")
			}
			last = tok.End
		case TokenEllipsis:
			b.WriteString(text[last:tok.Pos])
			b.WriteString("--[[truncated]]")
			last = tok.End
		}
	}
}
