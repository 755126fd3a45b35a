// Package codec turns call records into single log lines and parses those
// lines back into typed entries for filtering, diagnostics and replay.
package codec

import (
	"errors"
	"regexp"
	"strings"

	"github.com/coffersTech/callspy/internal/model"
)

// ErrParseMismatch is returned when a line matches no known grammar.
var ErrParseMismatch = errors.New("log line matches no known grammar")

const (
	// InboundMarker prefixes boundary-originated rows. Its length is fixed.
	InboundMarker = "<- "
	infoPrefix    = "# "
	newTag        = "NEW "
)

// Kind is the row kind of a decoded line.
type Kind uint8

const (
	Unparsed Kind = iota
	Fired
	Inbound
	DiscoveredLater
	Informational
)

func (k Kind) String() string {
	switch k {
	case Fired:
		return "fired"
	case Inbound:
		return "inbound"
	case DiscoveredLater:
		return "discovered"
	case Informational:
		return "info"
	default:
		return "unparsed"
	}
}

// Actionable rows can be selected and replayed.
func (k Kind) Actionable() bool {
	return k == Fired || k == Inbound || k == DiscoveredLater
}

// Grammar names the decode alternative that accepted a line.
type Grammar string

const (
	GrammarNone       Grammar = ""
	GrammarInfo       Grammar = "info"
	GrammarDiscovered Grammar = "discovered"
	GrammarCanonical  Grammar = "canonical"
	GrammarRelaxed    Grammar = "relaxed"
	GrammarLegacy     Grammar = "legacy"
)

// Entry is a decoded log line.
type Entry struct {
	Kind    Kind
	Grammar Grammar
	Class   model.EndpointClass
	Path    []string
	// Method is the method as observed; ReplayMethod is the send form used
	// to re-issue the call.
	Method       model.Method
	ReplayMethod model.Method
	Direction    model.Direction
	ArgsText     string
	// Text is the message of an Informational row.
	Text string
}

// DottedPath joins the path segments with dots.
func (e Entry) DottedPath() string {
	return strings.Join(e.Path, ".")
}

// InboundRemap maps every receive-form method to the send form that
// produces it. It is fixed and never inferred.
var InboundRemap = map[model.Method]model.Method{
	model.OnClientEvent:  model.FireServer,
	model.OnClientInvoke: model.InvokeServer,
	model.Event:          model.Fire,
	model.OnInvoke:       model.Invoke,
}

// Encode renders an actionable record. Inbound records carry the marker.
func Encode(r model.CallRecord) string {
	var b strings.Builder
	if r.Direction == model.Inbound {
		b.WriteString(InboundMarker)
	}
	b.WriteByte('[')
	b.WriteString(string(r.Class))
	b.WriteString("] ")
	b.WriteString(r.DottedPath())
	b.WriteString("  :")
	b.WriteString(string(r.Method))
	b.WriteByte('(')
	b.WriteString(r.ArgsText)
	b.WriteByte(')')
	return b.String()
}

// Discovered renders a row for an endpoint that appeared after startup.
func Discovered(class model.EndpointClass, path []string) string {
	return "[" + newTag + string(class) + "] " + strings.Join(path, ".")
}

// Info renders a diagnostic row. Line breaks are flattened so the row stays
// one line.
func Info(text string) string {
	return infoPrefix + strings.Join(strings.Fields(text), " ")
}

var (
	discoveredRe = regexp.MustCompile(`^\[NEW (\w+)\] (.+)$`)
	canonicalRe  = regexp.MustCompile(`^\[(\w+)\] (.*?\S)  :(\w+)\((.*)\)$`)
	relaxedRe    = regexp.MustCompile(`^\[(\w+)\] (.+?)\s*:(\w+)\((.*)\)$`)
	legacyRe     = regexp.MustCompile(`^(?:\[(\w+)\] )?([^\s():]+)(?::(\w+))?\((.*)\)$`)
)

type alternative struct {
	grammar Grammar
	parse   func(line string) (Entry, bool)
}

// alternatives are tried in order; the first accepting one wins.
var alternatives = []alternative{
	{GrammarDiscovered, parseDiscovered},
	{GrammarCanonical, func(l string) (Entry, bool) { return parseCall(canonicalRe, l) }},
	{GrammarRelaxed, func(l string) (Entry, bool) { return parseCall(relaxedRe, l) }},
	{GrammarLegacy, parseLegacy},
}

// Decode parses one log line. Lines matching no grammar come back as an
// Unparsed entry together with ErrParseMismatch.
func Decode(line string) (Entry, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, infoPrefix) {
		return Entry{Kind: Informational, Grammar: GrammarInfo, Text: line[len(infoPrefix):]}, nil
	}
	for _, alt := range alternatives {
		if e, ok := alt.parse(line); ok {
			e.Grammar = alt.grammar
			return e, nil
		}
	}
	return Entry{Kind: Unparsed, Text: line}, ErrParseMismatch
}

func parseDiscovered(line string) (Entry, bool) {
	m := discoveredRe.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}
	class, ok := model.ParseEndpointClass(m[1])
	if !ok {
		return Entry{}, false
	}
	path := model.SplitPath(strings.TrimSpace(m[2]))
	if len(path) == 0 {
		return Entry{}, false
	}
	return Entry{
		Kind:         DiscoveredLater,
		Class:        class,
		Path:         path,
		ReplayMethod: class.SendMethod(),
	}, true
}

func parseCall(re *regexp.Regexp, line string) (Entry, bool) {
	dir := model.Outbound
	if strings.HasPrefix(line, InboundMarker) {
		dir = model.Inbound
		line = line[len(InboundMarker):]
	}
	m := re.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}
	class, ok := model.ParseEndpointClass(m[1])
	if !ok {
		return Entry{}, false
	}
	path := model.SplitPath(strings.TrimSpace(m[2]))
	method, ok := model.ParseMethod(m[3])
	if !ok || len(path) == 0 {
		return Entry{}, false
	}

	e := Entry{
		Kind:      Fired,
		Class:     class,
		Path:      path,
		Method:    method,
		Direction: dir,
		ArgsText:  m[4],
	}
	if dir == model.Inbound {
		send, ok := InboundRemap[method]
		if !ok {
			return Entry{}, false
		}
		e.Kind = Inbound
		e.ReplayMethod = send
		return e, true
	}
	if method.IsSend() {
		e.ReplayMethod = method
	} else {
		e.ReplayMethod = InboundRemap[method]
	}
	return e, true
}

func parseLegacy(line string) (Entry, bool) {
	m := legacyRe.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}
	var class model.EndpointClass
	if m[1] != "" {
		c, ok := model.ParseEndpointClass(m[1])
		if !ok {
			return Entry{}, false
		}
		class = c
	}
	path := model.SplitPath(m[2])
	if len(path) == 0 {
		return Entry{}, false
	}

	method := class.SendMethod()
	if m[3] != "" {
		parsed, ok := model.ParseMethod(m[3])
		if !ok || !parsed.IsSend() {
			return Entry{}, false
		}
		method = parsed
	}
	return Entry{
		Kind:         Fired,
		Class:        class,
		Path:         path,
		Method:       method,
		ReplayMethod: method,
		ArgsText:     m[4],
	}, true
}

// ExtractPath returns the dotted path of an actionable line.
func ExtractPath(line string) (string, bool) {
	e, err := Decode(line)
	if err != nil || !e.Kind.Actionable() {
		return "", false
	}
	return e.DottedPath(), true
}

// ExtractMethod returns the send-form method used to replay the line.
func ExtractMethod(line string) (model.Method, bool) {
	e, err := Decode(line)
	if err != nil || !e.Kind.Actionable() {
		return "", false
	}
	return e.ReplayMethod, true
}

// ExtractArgs returns the raw argument text of a call row.
func ExtractArgs(line string) (string, bool) {
	e, err := Decode(line)
	if err != nil || (e.Kind != Fired && e.Kind != Inbound) {
		return "", false
	}
	return e.ArgsText, true
}
