package spy

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/callspy/internal/config"
	"github.com/coffersTech/callspy/internal/host/sim"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/replay"
	"github.com/coffersTech/callspy/internal/storage"
	"github.com/coffersTech/callspy/internal/strategy"
	"github.com/coffersTech/callspy/internal/value"
)

const buyLine = `[RemoteEvent] ReplicatedStorage.Buy  :FireServer("sword", 2)`

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSpy(t *testing.T, caps []sim.Capability, cfg config.Config) (*Spy, *sim.World, *sim.Node) {
	t.Helper()
	w := sim.New(caps...)
	remote := w.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	sp, err := New(context.Background(), w, Options{Config: cfg, Logger: quiet()})
	require.NoError(t, err)
	return sp, w, remote
}

func buy(t *testing.T, w *sim.World, n *sim.Node) {
	t.Helper()
	_, err := w.Call(n, model.FireServer, value.String("sword"), value.Number(2))
	require.NoError(t, err)
}

func TestNewInstallsAndRecords(t *testing.T) {
	sp, w, n := newSpy(t, sim.AllCapabilities(), config.Default())

	res := sp.InstallationDiagnostics()
	require.True(t, res.Installed)
	assert.Equal(t, strategy.NameGlobalHook, res.Strategy)

	buy(t, w, n)
	assert.Equal(t, []string{buyLine}, sp.Logs())
}

func TestNewReportsTotalFailure(t *testing.T) {
	sp, w, n := newSpy(t, []sim.Capability{sim.CapChildLookup}, config.Default())

	res := sp.InstallationDiagnostics()
	assert.False(t, res.Installed)
	assert.Len(t, res.Outcomes, 5)

	logs := sp.Logs()
	require.Len(t, logs, 1)
	assert.True(t, strings.HasPrefix(logs[0], "# no interception strategy available: "))
	for _, o := range res.Outcomes {
		assert.Contains(t, logs[0], o.Name)
	}

	buy(t, w, n)
	assert.Len(t, sp.Logs(), 1, "nothing is hooked")
	assert.Len(t, w.Received(), 1)
}

func TestTotalFailureRecordsNothingLater(t *testing.T) {
	caps := []sim.Capability{sim.CapChildLookup, sim.CapDescendants, sim.CapCreationNotify, sim.CapInbound}
	sp, w, n := newSpy(t, caps, config.Default())
	require.False(t, sp.InstallationDiagnostics().Installed)

	w.Deliver(n, value.String("hi"))
	w.Service("ReplicatedStorage").Add("Late", "RemoteEvent")

	logs := sp.Logs()
	require.Len(t, logs, 1)
	assert.True(t, strings.HasPrefix(logs[0], "# no interception strategy available: "))
}

func TestPartialConfigKeepsFilters(t *testing.T) {
	sp, w, n := newSpy(t, sim.AllCapabilities(), config.Config{BlockNames: []string{"Buy"}, SnapshotPath: "mine.snap"})

	buy(t, w, n)
	assert.Empty(t, sp.Logs())
	assert.Equal(t, "mine.snap", sp.SnapshotPath())
	assert.Equal(t, 1, sp.Stats().Filters)
	assert.Equal(t, 300, sp.Session().Log.Capacity())
}

func TestNewWaitsForUIRoot(t *testing.T) {
	w := sim.New(sim.AllCapabilities()...)
	_, err := New(context.Background(), w, Options{Logger: quiet(), UIRootTimeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrUIRootTimeout)

	w.SetUIRoot()
	sp, err := New(context.Background(), w, Options{Logger: quiet(), UIRootTimeout: time.Second})
	require.NoError(t, err)
	assert.True(t, sp.InstallationDiagnostics().Installed)
}

func TestConfiguredFilters(t *testing.T) {
	cfg := config.Default()
	cfg.BlockNames = []string{"Buy"}
	sp, w, n := newSpy(t, sim.AllCapabilities(), cfg)

	buy(t, w, n)
	assert.Empty(t, sp.Logs())
	assert.Len(t, w.Received(), 1)

	sp.ClearFilters()
	buy(t, w, n)
	assert.Len(t, sp.Logs(), 1)
}

func TestFilterByEntry(t *testing.T) {
	sp, w, n := newSpy(t, sim.AllCapabilities(), config.Default())
	buy(t, w, n)
	line := sp.Logs()[0]

	require.NoError(t, sp.BlockEntry(line))
	buy(t, w, n)
	assert.Len(t, sp.Logs(), 1)
	assert.Len(t, w.Received(), 2, "blocked calls still reach the far side")

	assert.ErrorIs(t, sp.ExcludeEntry("# just a note"), replay.ErrNoPath)
	assert.ErrorIs(t, sp.ExcludeEntry(`[RemoteEvent] ReplicatedStorage.Gone  :FireServer()`), ErrNodeNotFound)
}

func TestExtract(t *testing.T) {
	sp, _, _ := newSpy(t, sim.AllCapabilities(), config.Default())

	path, ok := sp.ExtractPath(buyLine)
	assert.True(t, ok)
	assert.Equal(t, "ReplicatedStorage.Buy", path)

	method, ok := sp.ExtractMethod(buyLine)
	assert.True(t, ok)
	assert.Equal(t, "FireServer", method)

	args, ok := sp.ExtractArgs(buyLine)
	assert.True(t, ok)
	assert.Equal(t, `"sword", 2`, args)

	_, ok = sp.ExtractPath("garbage")
	assert.False(t, ok)
}

func TestCopyReplayCode(t *testing.T) {
	sp, w, _ := newSpy(t, sim.AllCapabilities(), config.Default())

	require.NoError(t, sp.CopyReplayCode(buyLine))
	assert.Contains(t, w.ClipboardText(), `target:FireServer("sword", 2)`)

	err := sp.CopyReplayCode("# nothing to replay")
	assert.ErrorIs(t, err, replay.ErrNoPath)
	assert.Contains(t, err.Error(), "could not parse")

	noClip, _, _ := newSpy(t, sim.Without(sim.AllCapabilities(), sim.CapClipboard), config.Default())
	assert.Error(t, noClip.CopyReplayCode(buyLine))
}

func TestExecuteReplayIsRecordedAgain(t *testing.T) {
	sp, w, _ := newSpy(t, sim.AllCapabilities(), config.Default())

	require.NoError(t, sp.ExecuteReplay(context.Background(), buyLine))
	require.Len(t, w.Received(), 1)
	assert.Equal(t, []value.Value{value.String("sword"), value.Number(2)}, w.Received()[0].Args)
	assert.Equal(t, []string{buyLine}, sp.Logs())
}

func TestPauseKeepsForwarding(t *testing.T) {
	sp, w, n := newSpy(t, sim.AllCapabilities(), config.Default())

	sp.SetActive(false)
	buy(t, w, n)
	sp.SetActive(true)
	buy(t, w, n)

	assert.Len(t, sp.Logs(), 1)
	assert.Len(t, w.Received(), 2)
}

func TestSearchAndSubscribe(t *testing.T) {
	sp, w, n := newSpy(t, sim.AllCapabilities(), config.Default())
	var seen []string
	unsubscribe := sp.Subscribe(func(line string) { seen = append(seen, line) })

	buy(t, w, n)
	sp.PushLog("# manual note")
	unsubscribe()
	sp.PushLog("# after unsubscribe")

	assert.Equal(t, []string{buyLine, "# manual note"}, seen)

	got, err := sp.Search("method:FireServer", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{buyLine}, got)

	got, err = sp.Search("", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"# after unsubscribe", "# manual note"}, got)

	_, err = sp.Search("(class:RemoteEvent", 0)
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	sp, w, n := newSpy(t, sim.AllCapabilities(), config.Default())
	buy(t, w, n)
	sp.PushLog("# note")

	path := filepath.Join(t.TempDir(), "s.snap")
	written, err := sp.SaveSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	other, _, _ := newSpy(t, sim.AllCapabilities(), config.Default())
	count, err := other.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, sp.Logs(), other.Logs())

	_, err = other.LoadSnapshot(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDefaultSnapshotPath(t *testing.T) {
	sp, _, _ := newSpy(t, sim.AllCapabilities(), config.Default())
	assert.Equal(t, "callspy-"+sp.Session().ID+".snap", sp.SnapshotPath())

	cfg := config.Default()
	cfg.SnapshotPath = "/tmp/x.snap"
	sp, _, _ = newSpy(t, sim.AllCapabilities(), cfg)
	assert.Equal(t, "/tmp/x.snap", sp.SnapshotPath())
}

func TestAttachJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.journal")

	sp, w, n := newSpy(t, sim.AllCapabilities(), config.Default())
	j, err := storage.OpenJournal(path)
	require.NoError(t, err)
	restored, stop, err := sp.AttachJournal(j)
	require.NoError(t, err)
	assert.Zero(t, restored)

	buy(t, w, n)
	stop()
	sp.PushLog("# not journaled")
	require.NoError(t, j.Close())

	other, _, _ := newSpy(t, sim.AllCapabilities(), config.Default())
	j, err = storage.OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()
	restored, stop, err = other.AttachJournal(j)
	require.NoError(t, err)
	defer stop()
	assert.Equal(t, 1, restored)
	assert.Equal(t, []string{buyLine}, other.Logs())
}
