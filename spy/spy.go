// Package spy is the surface the spy panel calls into. It wires a host to a
// recording session, installs interception once, and exposes the log,
// filter and replay operations.
package spy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/config"
	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/replay"
	"github.com/coffersTech/callspy/internal/storage"
	"github.com/coffersTech/callspy/internal/strategy"
)

var (
	// ErrUIRootTimeout means the local UI root did not appear in time.
	ErrUIRootTimeout = errors.New("timed out waiting for the UI root")
	// ErrNodeNotFound means an entry's path no longer resolves to a node.
	ErrNodeNotFound = errors.New("node not found")
)

// Options configures New.
type Options struct {
	Config config.Config
	Logger *slog.Logger

	// UIRootTimeout bounds the startup wait for the UI root. Zero skips
	// the wait.
	UIRootTimeout time.Duration

	// Strategies overrides the installation order.
	Strategies []strategy.Strategy
}

// Spy is one recording session attached to a host.
type Spy struct {
	host     host.Host
	session  *engine.Session
	selector *strategy.Selector
	result   strategy.Result
	exec     *replay.Executor
	cfg      config.Config
	logger   *slog.Logger
}

// New attaches to h and installs interception. Installation failure is not
// an error: the session stays usable and the reasons are logged as a
// diagnostic row. Only a UI-root timeout aborts setup.
func New(ctx context.Context, h host.Host, opts Options) (*Spy, error) {
	cfg := opts.Config.WithDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.UIRootTimeout > 0 {
		if err := waitForUIRoot(ctx, h, opts.UIRootTimeout); err != nil {
			logger.Error("setup aborted", "err", err)
			return nil, err
		}
	}

	s := engine.NewSession(h, engine.Options{
		Capacity: cfg.Capacity,
		MaxDepth: cfg.MaxDepth,
		Logger:   logger,
	})
	for _, p := range cfg.ExcludeNames {
		s.Filters.ExcludeName(p)
	}
	for _, p := range cfg.BlockNames {
		s.Filters.BlockName(p)
	}

	sp := &Spy{
		host:     h,
		session:  s,
		selector: strategy.NewSelector(h, s, opts.Strategies...),
		exec:     replay.NewExecutor(h, s),
		cfg:      cfg,
		logger:   s.Logger(),
	}
	sp.result = sp.selector.Install(ctx)
	if !sp.result.Installed {
		s.Info("no interception strategy available: " + strings.Join(sp.result.Reasons(), "; "))
	}
	return sp, nil
}

func waitForUIRoot(ctx context.Context, h host.Host, timeout time.Duration) error {
	w, ok := h.(host.UIRootWaiter)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := w.WaitForUIRoot(ctx)
	switch {
	case err == nil, errors.Is(err, host.ErrUnsupported):
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrUIRootTimeout, timeout)
	}
	return fmt.Errorf("wait for UI root: %w", err)
}

// Session exposes the underlying session.
func (sp *Spy) Session() *engine.Session {
	return sp.session
}

// InstallationDiagnostics returns the selection result: the winning
// strategy, if any, and every attempt's outcome.
func (sp *Spy) InstallationDiagnostics() strategy.Result {
	return sp.result
}

// PushLog appends a line produced outside the hooks.
func (sp *Spy) PushLog(line string) {
	sp.session.PushLog(line)
}

// Logs returns the stored lines, oldest first.
func (sp *Spy) Logs() []string {
	return sp.session.Logs()
}

func (sp *Spy) ClearLogs() {
	sp.session.ClearLogs()
}

// SetActive pauses or resumes recording. Hooks stay installed.
func (sp *Spy) SetActive(on bool) {
	sp.session.SetActive(on)
}

// Subscribe delivers every new line to fn until the returned function is
// called.
func (sp *Spy) Subscribe(fn func(line string)) func() {
	return sp.session.Subscribe(fn)
}

// ExcludeByName hides calls to endpoints whose name contains pattern.
// The call still reaches the far side.
func (sp *Spy) ExcludeByName(pattern string) {
	sp.session.Filters.ExcludeName(pattern)
}

// BlockByName stops recording calls to endpoints whose name contains
// pattern. The call still reaches the far side.
func (sp *Spy) BlockByName(pattern string) {
	sp.session.Filters.BlockName(pattern)
}

func (sp *Spy) ExcludeByIdentity(n model.Node) {
	sp.session.Filters.ExcludeNode(n)
}

func (sp *Spy) BlockByIdentity(n model.Node) {
	sp.session.Filters.BlockNode(n)
}

// ClearFilters empties all four filter sets at once.
func (sp *Spy) ClearFilters() {
	sp.session.Filters.ClearAll()
}

// ExcludeEntry excludes the node a log line refers to.
func (sp *Spy) ExcludeEntry(line string) error {
	n, err := sp.entryNode(line)
	if err != nil {
		return err
	}
	sp.session.Filters.ExcludeNode(n)
	return nil
}

// BlockEntry blocks the node a log line refers to.
func (sp *Spy) BlockEntry(line string) error {
	n, err := sp.entryNode(line)
	if err != nil {
		return err
	}
	sp.session.Filters.BlockNode(n)
	return nil
}

func (sp *Spy) entryNode(line string) (model.Node, error) {
	path, ok := codec.ExtractPath(line)
	if !ok {
		return nil, replay.ErrNoPath
	}
	n, _, ok := host.Resolve(sp.host, model.SplitPath(path))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, path)
	}
	return n, nil
}

func (sp *Spy) ExtractPath(line string) (string, bool) {
	return codec.ExtractPath(line)
}

func (sp *Spy) ExtractMethod(line string) (string, bool) {
	m, ok := codec.ExtractMethod(line)
	return string(m), ok
}

func (sp *Spy) ExtractArgs(line string) (string, bool) {
	return codec.ExtractArgs(line)
}

// GenerateReplayCode returns a standalone snippet repeating line.
func (sp *Spy) GenerateReplayCode(line string) (string, error) {
	return replay.Generator{}.Generate(line)
}

// CopyReplayCode places the replay snippet for line on the clipboard.
func (sp *Spy) CopyReplayCode(line string) error {
	code, err := sp.GenerateReplayCode(line)
	if err != nil {
		return err
	}
	cb, ok := sp.host.(host.Clipboard)
	if !ok {
		return fmt.Errorf("copy replay code: %w", host.ErrUnsupported)
	}
	if err := cb.SetClipboard(code); err != nil {
		return fmt.Errorf("copy replay code: %w", err)
	}
	return nil
}

// ExecuteReplay repeats line against the live host. Failures are also
// written to the log.
func (sp *Spy) ExecuteReplay(ctx context.Context, line string) error {
	return sp.exec.Execute(ctx, line)
}

// Search returns lines matching query, newest first.
func (sp *Spy) Search(query string, limit int) ([]string, error) {
	rows, err := sp.session.Search(query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Raw
	}
	return out, nil
}

// Stats summarizes the session.
func (sp *Spy) Stats() engine.SessionStats {
	return sp.session.Stats()
}

// SnapshotPath is where SaveSnapshot writes when given no path.
func (sp *Spy) SnapshotPath() string {
	if sp.cfg.SnapshotPath != "" {
		return sp.cfg.SnapshotPath
	}
	return "callspy-" + sp.session.ID + ".snap"
}

// SaveSnapshot writes the log to path, or to SnapshotPath when path is
// empty, and returns the file written.
func (sp *Spy) SaveSnapshot(path string) (string, error) {
	if path == "" {
		path = sp.SnapshotPath()
	}
	w, err := storage.NewSnapshotWriter()
	if err != nil {
		return "", err
	}
	rows := sp.session.Log.Rows()
	if err := w.WriteSnapshot(path, rows); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	sp.logger.Info("snapshot saved", "path", path, "lines", len(rows))
	return path, nil
}

// LoadSnapshot appends the lines stored at path to the log, oldest first,
// and returns how many were read. The capacity bound applies as usual.
func (sp *Spy) LoadSnapshot(path string) (int, error) {
	rows, err := ReadSnapshot(path)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		sp.session.PushLog(r)
	}
	sp.logger.Info("snapshot loaded", "path", path, "lines", len(rows))
	return len(rows), nil
}

// ReadSnapshot returns the lines stored at path without a session.
func ReadSnapshot(path string) ([]string, error) {
	r, err := storage.NewSnapshotReader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rows, err := r.ReadSnapshot(path, engine.Filter{})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = row.Raw
	}
	return lines, nil
}

// AttachJournal restores the lines held in j into the log and then mirrors
// every new line into it. It returns the number of restored lines and a
// function that stops mirroring.
func (sp *Spy) AttachJournal(j *storage.Journal) (int, func(), error) {
	rows, err := j.Replay()
	if err != nil {
		return 0, nil, fmt.Errorf("restore journal: %w", err)
	}
	for _, r := range rows {
		sp.session.PushLog(r.Raw)
	}

	stop := sp.session.Subscribe(func(line string) {
		e, _ := codec.Decode(line)
		if err := j.Write(e.Kind, line); err != nil {
			sp.logger.Warn("journal write failed", "path", j.Path(), "err", err)
		}
	})
	sp.logger.Info("journal attached", "path", j.Path(), "restored", len(rows))
	return len(rows), stop, nil
}
