package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/pkg/spyql"
)

func TestJournalReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.journal")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	require.NoError(t, j.Write(codec.Fired, `[RemoteEvent] ReplicatedStorage.Buy  :FireServer("a\"b")`))
	require.NoError(t, j.Write(codec.Informational, "# note"))
	require.NoError(t, j.Sync())
	require.NoError(t, j.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()

	rows, err := j.Replay()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, codec.Fired, rows[0].Kind)
	assert.Equal(t, `[RemoteEvent] ReplicatedStorage.Buy  :FireServer("a\"b")`, rows[0].Raw)
	assert.Equal(t, codec.Informational, rows[1].Kind)
	assert.NotZero(t, rows[1].Timestamp)

	// Appends after a replay still land at the end.
	require.NoError(t, j.Write(codec.Informational, "# third"))
	rows, err = j.Replay()
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	require.NoError(t, j.Reset())
	rows, err = j.Replay()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestJournalTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.journal")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Write(codec.Informational, "# whole"))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{50, 0, 0, 0, '{'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()
	rows, err := j.Replay()
	assert.Error(t, err)
	assert.Len(t, rows, 1)
}

func rowsAt(ts ...int64) []engine.LogRow {
	rows := make([]engine.LogRow, len(ts))
	for i, t := range ts {
		rows[i] = engine.LogRow{
			Timestamp: t,
			Kind:      codec.Fired,
			Raw:       fmt.Sprintf("[RemoteEvent] ReplicatedStorage.Buy  :FireServer(%d)", i),
		}
	}
	return rows
}

func TestArchiveFlushIsIncremental(t *testing.T) {
	a, err := OpenArchive(t.TempDir(), 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	first, err := a.Flush(rowsAt(10, 20))
	require.NoError(t, err)
	assert.Equal(t, "calls_10_20.snap", filepath.Base(first))

	none, err := a.Flush(rowsAt(10, 20))
	require.NoError(t, err)
	assert.Empty(t, none)

	second, err := a.Flush(rowsAt(10, 20, 30, 40))
	require.NoError(t, err)
	assert.Equal(t, "calls_30_40.snap", filepath.Base(second))

	files, err := a.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, files)

	got, err := a.Scan(engine.Filter{}, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, int64(40), got[0].Timestamp)
	assert.Equal(t, int64(10), got[3].Timestamp)

	got, err = a.Scan(engine.Filter{MinTime: 25}, nil, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(40), got[0].Timestamp)

	q, err := spyql.Parse("kind:info")
	require.NoError(t, err)
	got, err = a.Scan(engine.Filter{}, q, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestArchivePurge(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenArchive(dir, time.Hour, nil)
	require.NoError(t, err)
	defer a.Close()

	now := time.Now()
	old := now.Add(-2 * time.Hour).UnixNano()
	recent := now.Add(-time.Minute).UnixNano()
	_, err = a.Flush(rowsAt(old, old+1))
	require.NoError(t, err)
	_, err = a.Flush(rowsAt(old, old+1, recent))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	assert.Equal(t, 1, a.Purge(now))
	files, err := a.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}
