package engine

import (
	"sort"

	"github.com/coffersTech/callspy/internal/pkg/spyql"
)

type HistogramPoint struct {
	Time  int64 `json:"time"`
	Count int   `json:"count"`
}

// Histogram counts stored rows per time bucket of interval nanoseconds.
// Zero start or end leaves that side open; a nil query matches every row.
func (cl *CallLog) Histogram(start, end, interval int64, query spyql.Node) []HistogramPoint {
	return Bucketize(cl.Rows(), start, end, interval, query)
}

// Bucketize counts rows per time bucket. Points come back in time order.
func Bucketize(rows []LogRow, start, end, interval int64, query spyql.Node) []HistogramPoint {
	if interval <= 0 {
		return nil
	}
	buckets := make(map[int64]int)
	for i := range rows {
		ts := rows[i].Timestamp
		if (start > 0 && ts < start) || (end > 0 && ts > end) {
			continue
		}
		if query != nil && !spyql.Match(query, &rows[i]) {
			continue
		}
		buckets[(ts/interval)*interval]++
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for t, c := range buckets {
		points = append(points, HistogramPoint{Time: t, Count: c})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})
	return points
}
