package engine

import (
	"reflect"
	"testing"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/pkg/spyql"
)

func TestBucketize(t *testing.T) {
	fired := `[RemoteEvent] ReplicatedStorage.Buy  :FireServer()`
	rows := []LogRow{
		{Timestamp: 100, Kind: codec.Fired, Raw: fired},
		{Timestamp: 150, Kind: codec.Informational, Raw: "# note"},
		{Timestamp: 199, Kind: codec.Fired, Raw: fired},
		{Timestamp: 305, Kind: codec.Fired, Raw: fired},
	}
	fromQuery := func(q string) spyql.Node {
		n, err := spyql.Parse(q)
		if err != nil {
			t.Fatalf("parse %q: %v", q, err)
		}
		return n
	}

	tests := []struct {
		name       string
		start, end int64
		interval   int64
		query      spyql.Node
		want       []HistogramPoint
	}{
		{"all", 0, 0, 100, nil, []HistogramPoint{{100, 3}, {300, 1}}},
		{"window", 150, 300, 100, nil, []HistogramPoint{{100, 2}}},
		{"query", 0, 0, 100, fromQuery("kind:fired"), []HistogramPoint{{100, 2}, {300, 1}}},
		{"zero interval", 0, 0, 0, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bucketize(rows, tt.start, tt.end, tt.interval, tt.query)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Bucketize = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCallLogHistogram(t *testing.T) {
	cl := NewCallLog(10)
	for i := 0; i < 4; i++ {
		cl.Append(codec.Informational, "# tick")
	}
	total := 0
	for _, p := range cl.Histogram(0, 0, 1<<62, nil) {
		total += p.Count
	}
	if total != 4 {
		t.Errorf("histogram total = %d, want 4", total)
	}
}
