package engine

import (
	"sync"
	"time"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/pkg/spyql"
)

// DefaultCapacity is the number of lines kept when none is configured.
const DefaultCapacity = 300

// CallLog stores rendered log lines in columnar form inside a fixed ring.
// Columns are exported for the snapshot writer.
type CallLog struct {
	mu sync.RWMutex

	TsCol   []int64      // Arrival time (unix nanos)
	KindCol []codec.Kind // Kind decided at append time
	LineCol []string     // Rendered text

	head     int // index of the oldest row
	size     int
	capacity int

	evicted int64
}

// NewCallLog allocates a log holding at most capacity lines.
func NewCallLog(capacity int) *CallLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &CallLog{
		TsCol:    make([]int64, capacity),
		KindCol:  make([]codec.Kind, capacity),
		LineCol:  make([]string, capacity),
		capacity: capacity,
	}
}

// Append adds a line, evicting the oldest when full. It reports whether a
// line was evicted. Append and eviction happen under one lock.
func (cl *CallLog) Append(kind codec.Kind, line string) bool {
	ts := time.Now().UnixNano()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.size < cl.capacity {
		i := (cl.head + cl.size) % cl.capacity
		cl.TsCol[i], cl.KindCol[i], cl.LineCol[i] = ts, kind, line
		cl.size++
		return false
	}

	// Full: overwrite the oldest slot and advance the head.
	i := cl.head
	cl.TsCol[i], cl.KindCol[i], cl.LineCol[i] = ts, kind, line
	cl.head = (cl.head + 1) % cl.capacity
	cl.evicted++
	logEvictions.Inc()
	return true
}

// Len returns the number of stored lines.
func (cl *CallLog) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.size
}

// Capacity returns the configured bound.
func (cl *CallLog) Capacity() int {
	return cl.capacity
}

// Evicted returns how many lines have been dropped since creation.
func (cl *CallLog) Evicted() int64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.evicted
}

// Lines returns a copy of the stored text, oldest first.
func (cl *CallLog) Lines() []string {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	out := make([]string, cl.size)
	for n := 0; n < cl.size; n++ {
		out[n] = cl.LineCol[(cl.head+n)%cl.capacity]
	}
	return out
}

// Rows returns a copy of every stored row, oldest first.
func (cl *CallLog) Rows() []LogRow {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	out := make([]LogRow, cl.size)
	for n := 0; n < cl.size; n++ {
		i := (cl.head + n) % cl.capacity
		out[n] = LogRow{Timestamp: cl.TsCol[i], Kind: cl.KindCol[i], Raw: cl.LineCol[i]}
	}
	return out
}

// Reset clears all rows. The eviction counter survives.
func (cl *CallLog) Reset() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for i := range cl.LineCol {
		cl.LineCol[i] = ""
	}
	cl.head = 0
	cl.size = 0
}

// MinTimestamp returns the arrival time of the oldest row.
func (cl *CallLog) MinTimestamp() int64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.size == 0 {
		return 0
	}
	return cl.TsCol[cl.head]
}

// MaxTimestamp returns the arrival time of the newest row.
func (cl *CallLog) MaxTimestamp() int64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.size == 0 {
		return 0
	}
	return cl.TsCol[(cl.head+cl.size-1)%cl.capacity]
}

// Search filters stored rows, newest first. A nil query matches everything.
func (cl *CallLog) Search(filter Filter, query spyql.Node, limit int) []LogRow {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var result []LogRow

	// Scan backwards (newest first)
	for n := cl.size - 1; n >= 0; n-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		i := (cl.head + n) % cl.capacity

		ts := cl.TsCol[i]
		if filter.MinTime > 0 && ts < filter.MinTime {
			continue
		}
		if filter.MaxTime > 0 && ts > filter.MaxTime {
			continue
		}

		row := LogRow{Timestamp: ts, Kind: cl.KindCol[i], Raw: cl.LineCol[i]}
		if filter.Class != "" {
			if class, ok := row.Field("class"); !ok || class != string(filter.Class) {
				continue
			}
		}
		if query != nil && !spyql.Match(query, &row) {
			continue
		}
		result = append(result, row)
	}

	return result
}
