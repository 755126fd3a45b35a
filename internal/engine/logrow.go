package engine

import (
	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/model"
)

// LogRow is one stored log line with its arrival time.
type LogRow struct {
	Timestamp int64      `json:"timestamp"`
	Kind      codec.Kind `json:"kind"`
	Raw       string     `json:"line"`

	entry   codec.Entry
	decoded bool
}

func (r *LogRow) decode() codec.Entry {
	if !r.decoded {
		r.entry, _ = codec.Decode(r.Raw)
		r.decoded = true
	}
	return r.entry
}

// Field exposes decoded parts of the line to the query language.
func (r *LogRow) Field(key string) (string, bool) {
	e := r.decode()
	switch key {
	case "kind":
		return e.Kind.String(), true
	case "text", "msg":
		return e.Text, e.Kind == codec.Informational || e.Kind == codec.Unparsed
	}
	if !e.Kind.Actionable() {
		return "", false
	}
	switch key {
	case "class":
		return string(e.Class), true
	case "path":
		return e.DottedPath(), true
	case "name":
		return e.Path[len(e.Path)-1], true
	case "method":
		return string(e.Method), e.Method != ""
	case "replay", "send":
		return string(e.ReplayMethod), true
	case "dir", "direction":
		if e.Kind == codec.DiscoveredLater {
			return "", false
		}
		return e.Direction.String(), true
	case "args":
		return e.ArgsText, e.Kind != codec.DiscoveredLater
	}
	return "", false
}

// Line returns the raw text for full-text matches.
func (r *LogRow) Line() string {
	return r.Raw
}

// Filter defines criteria for log retrieval.
type Filter struct {
	MinTime int64               `json:"min_time"`
	MaxTime int64               `json:"max_time"`
	Class   model.EndpointClass `json:"class"`
	Query   string              `json:"q"` // spyql expression
}
