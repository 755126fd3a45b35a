package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/engine"
)

func sampleLog() *engine.CallLog {
	cl := engine.NewCallLog(10)
	for _, l := range []string{
		`[RemoteEvent] ReplicatedStorage.Buy  :FireServer("sword", 2)`,
		`<- [RemoteEvent] ReplicatedStorage.Buy  :OnClientEvent(true)`,
		`[RemoteFunction] ReplicatedStorage.GetPrice  :InvokeServer({qty = 1})`,
		`# installed via per-instance-patch`,
		"unicode ✓ and \"quotes\"",
	} {
		e, _ := codec.Decode(l)
		cl.Append(e.Kind, l)
	}
	return cl
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.callspy")
	rows := sampleLog().Rows()

	w, err := NewSnapshotWriter()
	require.NoError(t, err)
	require.NoError(t, w.WriteSnapshot(path, rows))

	r, err := NewSnapshotReader()
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadSnapshot(path, engine.Filter{})
	require.NoError(t, err)
	require.Len(t, got, len(rows))
	for i := range rows {
		assert.Equal(t, rows[i].Raw, got[i].Raw)
		assert.Equal(t, rows[i].Kind, got[i].Kind)
		assert.Equal(t, rows[i].Timestamp, got[i].Timestamp)
	}

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.callspy")
	rows := sampleLog().Rows()

	w, err := NewSnapshotWriter()
	require.NoError(t, err)
	require.NoError(t, w.WriteSnapshot(path, rows))

	r, err := NewSnapshotReader()
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadSnapshot(path, engine.Filter{Class: "RemoteEvent"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.ReadSnapshot(path, engine.Filter{MinTime: rows[len(rows)-1].Timestamp + 1})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshotEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.callspy")
	w, err := NewSnapshotWriter()
	require.NoError(t, err)
	require.NoError(t, w.WriteSnapshot(path, nil))

	r, err := NewSnapshotReader()
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadSnapshot(path, engine.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshotRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	r, err := NewSnapshotReader()
	require.NoError(t, err)
	defer r.Close()

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("LOGSNAP1 not ours"), 0o644))
	_, err = r.ReadSnapshot(bad, engine.Filter{})
	assert.ErrorIs(t, err, ErrInvalidHeader)

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, MagicHeader, 0o644))
	_, err = r.ReadSnapshot(short, engine.Filter{})
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = r.ReadSnapshot(filepath.Join(dir, "missing"), engine.Filter{})
	assert.Error(t, err)
}
