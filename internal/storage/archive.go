package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/pkg/spyql"
)

const snapExt = ".snap"

// Archive keeps a directory of snapshot segments. Each flush writes the
// rows that arrived since the previous flush; segments older than the
// retention are purged.
type Archive struct {
	dir       string
	retention time.Duration
	writer    *SnapshotWriter
	reader    *SnapshotReader
	logger    *slog.Logger

	mu          sync.Mutex
	lastFlushed int64
}

// OpenArchive creates dir if needed. A zero retention keeps every segment.
func OpenArchive(dir string, retention time.Duration, logger *slog.Logger) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w, err := NewSnapshotWriter()
	if err != nil {
		return nil, err
	}
	r, err := NewSnapshotReader()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		dir:       dir,
		retention: retention,
		writer:    w,
		reader:    r,
		logger:    logger.With("component", "archive"),
	}, nil
}

func (a *Archive) Close() {
	a.reader.Close()
}

// Flush writes the rows newer than the previous flush as one segment and
// returns its path, or "" when there was nothing new.
// Filename format: calls_{MinTimestamp}_{MaxTimestamp}.snap
func (a *Archive) Flush(rows []engine.LogRow) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := sort.Search(len(rows), func(i int) bool {
		return rows[i].Timestamp > a.lastFlushed
	})
	fresh := rows[start:]
	if len(fresh) == 0 {
		return "", nil
	}

	minTs, maxTs := fresh[0].Timestamp, fresh[len(fresh)-1].Timestamp
	path := filepath.Join(a.dir, fmt.Sprintf("calls_%d_%d%s", minTs, maxTs, snapExt))
	if err := a.writer.WriteSnapshot(path, fresh); err != nil {
		return "", err
	}
	a.lastFlushed = maxTs
	a.logger.Debug("segment written", "path", path, "rows", len(fresh))
	return path, nil
}

// Purge removes segments whose newest row is older than the retention.
func (a *Archive) Purge(now time.Time) int {
	if a.retention <= 0 {
		return 0
	}
	threshold := now.Add(-a.retention).UnixNano()

	files, err := a.Files()
	if err != nil {
		a.logger.Warn("failed to list segments", "err", err)
		return 0
	}
	removed := 0
	for _, f := range files {
		_, maxTs, err := parseSegmentName(f)
		if err != nil || maxTs >= threshold {
			continue
		}
		if err := os.Remove(f); err != nil {
			a.logger.Warn("failed to delete segment", "path", f, "err", err)
			continue
		}
		a.logger.Info("expired segment deleted", "path", f)
		removed++
	}
	return removed
}

// Files lists the segments, oldest first.
func (a *Archive) Files() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), snapExt) {
			files = append(files, filepath.Join(a.dir, entry.Name()))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		mi, _, _ := parseSegmentName(files[i])
		mj, _, _ := parseSegmentName(files[j])
		return mi < mj
	})
	return files, nil
}

// Scan searches every segment overlapping the filter's time range and
// returns matches newest first.
func (a *Archive) Scan(filter engine.Filter, query spyql.Node, limit int) ([]engine.LogRow, error) {
	files, err := a.Files()
	if err != nil {
		return nil, err
	}

	var result []engine.LogRow
	for i := len(files) - 1; i >= 0; i-- {
		if minTs, maxTs, err := parseSegmentName(files[i]); err == nil {
			if filter.MinTime > 0 && maxTs < filter.MinTime {
				continue
			}
			if filter.MaxTime > 0 && minTs > filter.MaxTime {
				continue
			}
		}

		rows, err := a.reader.ReadSnapshot(files[i], filter)
		if err != nil {
			a.logger.Warn("skipping unreadable segment", "path", files[i], "err", err)
			continue
		}
		for j := len(rows) - 1; j >= 0; j-- {
			if query != nil && !spyql.Match(query, &rows[j]) {
				continue
			}
			result = append(result, rows[j])
			if limit > 0 && len(result) >= limit {
				return result, nil
			}
		}
	}
	return result, nil
}

// Run flushes source every interval and purges expired segments until ctx
// ends, then flushes once more.
func (a *Archive) Run(ctx context.Context, interval time.Duration, source func() []engine.LogRow) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("archiver started", "dir", a.dir, "interval", interval, "retention", a.retention)
	for {
		select {
		case <-ctx.Done():
			if _, err := a.Flush(source()); err != nil {
				a.logger.Error("final flush failed", "err", err)
			}
			return
		case now := <-ticker.C:
			if _, err := a.Flush(source()); err != nil {
				a.logger.Error("flush failed", "err", err)
			}
			a.Purge(now)
		}
	}
}

func parseSegmentName(path string) (int64, int64, error) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "calls_") || !strings.HasSuffix(base, snapExt) {
		return 0, 0, fmt.Errorf("invalid format")
	}
	content := strings.TrimSuffix(strings.TrimPrefix(base, "calls_"), snapExt)
	parts := strings.Split(content, "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid parts")
	}
	minTs, err1 := strconv.ParseInt(parts[0], 10, 64)
	maxTs, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("invalid timestamps")
	}
	return minTs, maxTs, nil
}
