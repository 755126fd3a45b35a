package engine

import "github.com/coffersTech/callspy/internal/codec"

// SessionStats summarises a session for diagnostics output.
type SessionStats struct {
	SessionID string           `json:"session_id"`
	Active    bool             `json:"active"`
	Recorded  int64            `json:"recorded"`  // calls written since start
	Skipped   map[string]int64 `json:"skipped"`   // reason -> count
	Lines     int              `json:"lines"`     // rows currently held
	Capacity  int              `json:"capacity"`  // log bound
	Evicted   int64            `json:"evicted"`   // rows dropped by the bound
	KindDist  map[string]int   `json:"kind_dist"` // e.g. "fired": 12
	TopPaths  map[string]int   `json:"top_paths"` // e.g. "ReplicatedStorage.Buy": 7
	Hooked    int              `json:"hooked"`    // nodes with an outbound hook
	Inbound   int              `json:"inbound"`   // nodes with an inbound subscription
	Filters   int              `json:"filters"`   // patterns plus identities
}

// Stats takes a snapshot of the session counters and the current log
// contents.
func (s *Session) Stats() SessionStats {
	stats := SessionStats{
		SessionID: s.ID,
		Active:    s.Active(),
		Recorded:  s.recorded.Load(),
		Skipped:   make(map[string]int64),
		Capacity:  s.Log.Capacity(),
		Evicted:   s.Log.Evicted(),
		KindDist:  make(map[string]int),
		TopPaths:  make(map[string]int),
		Hooked:    s.Hooked.Len(),
		Inbound:   s.Inbound.Len(),
		Filters:   s.Filters.Size(),
	}

	s.skipMu.Lock()
	for reason, n := range s.skipped {
		stats.Skipped[reason] = n
	}
	s.skipMu.Unlock()

	rows := s.Log.Rows()
	stats.Lines = len(rows)
	for i := range rows {
		stats.KindDist[rows[i].Kind.String()]++
		if rows[i].Kind == codec.Fired || rows[i].Kind == codec.Inbound {
			if p, ok := rows[i].Field("path"); ok {
				stats.TopPaths[p]++
			}
		}
	}
	return stats
}
