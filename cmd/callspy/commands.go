package main

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coffersTech/callspy/client"
	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/host/sim"
	"github.com/coffersTech/callspy/internal/pkg/spyql"
	"github.com/coffersTech/callspy/internal/replay"
	"github.com/coffersTech/callspy/internal/server"
	"github.com/coffersTech/callspy/internal/storage"
	"github.com/coffersTech/callspy/spy"
)

//go:embed demo.json
var demoFixture []byte

var (
	fixturePath  string
	snapshotOut  string
	uiTimeout    time.Duration
	addr         string
	token        string
	journalPath  string
	archiveDir   string
	flushEvery   time.Duration
	retention    time.Duration
	searchSource string
	searchLimit  int
	serverURL    string
)

var (
	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Run a simulated session and print what was recorded",
		Long: `Builds a simulated host from a JSON fixture (a built-in one by default),
installs interception, plays the fixture's calls and prints the
installation diagnostics followed by the log.`,
		Args: cobra.NoArgs,
		RunE: runDemo,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run a simulated session behind the HTTP inspection API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	decodeCmd = &cobra.Command{
		Use:   "decode [line...]",
		Short: "Decode log lines (from arguments or stdin) into their fields",
		RunE:  runDecode,
	}
	replayCodeCmd = &cobra.Command{
		Use:   "replay-code [line]",
		Short: "Print a standalone script that repeats a logged call",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplayCode,
	}
	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Search a snapshot file or an archive directory",
		Long:  `Query syntax: key:value, key!=value, "full text", AND, OR, NOT and parentheses. Keys: class, path, name, method, replay, dir, kind, args, text.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSearch,
	}
	pushCmd = &cobra.Command{
		Use:   "push [line...]",
		Short: "Append lines (from arguments or stdin) to a running server's log",
		RunE:  runPush,
	}
	dumpCmd = &cobra.Command{
		Use:   "dump [snapshot]",
		Short: "Print the lines stored in a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}
)

func init() {
	for _, c := range []*cobra.Command{demoCmd, serveCmd} {
		c.Flags().StringVar(&fixturePath, "fixture", "", "JSON fixture describing the simulated host (default: built-in)")
		c.Flags().DurationVar(&uiTimeout, "ui-timeout", 5*time.Second, "how long to wait for the UI root")
	}
	demoCmd.Flags().StringVar(&snapshotOut, "snapshot", "", "also save the log to this snapshot file")

	serveCmd.Flags().StringVar(&addr, "addr", ":8089", "listen address")
	serveCmd.Flags().StringVar(&token, "token", "", "bearer token required by the API (empty disables auth)")
	serveCmd.Flags().StringVar(&journalPath, "journal", "", "restore from and mirror into this journal file")
	serveCmd.Flags().StringVar(&archiveDir, "archive", "", "directory for periodic snapshot segments")
	serveCmd.Flags().DurationVar(&flushEvery, "flush-interval", 30*time.Second, "how often to write archive segments")
	serveCmd.Flags().DurationVar(&retention, "retention", 24*time.Hour, "how long archive segments are kept")

	searchCmd.Flags().StringVar(&searchSource, "from", "", "snapshot file or archive directory (default: configured snapshot_path)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "maximum rows, newest first (0 for all)")

	pushCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8089", "inspect server base URL")
	pushCmd.Flags().StringVar(&token, "token", "", "bearer token for the inspect server")
}

func readLines(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var lines []string
	sc := bufio.NewScanner(cmd.InOrStdin())
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// startSession builds the simulated host and attaches a spy to it. The
// fixture's UI root is published before the wait starts.
func startSession(ctx context.Context) (*spy.Spy, *sim.Fixture, error) {
	var (
		f   *sim.Fixture
		err error
	)
	if fixturePath != "" {
		f, err = sim.LoadFixture(fixturePath)
	} else {
		f, err = sim.ParseFixture(demoFixture)
	}
	if err != nil {
		return nil, nil, err
	}
	f.World.SetUIRoot()

	sp, err := spy.New(ctx, f.World, spy.Options{
		Config:        cfg,
		Logger:        slog.Default(),
		UIRootTimeout: uiTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return sp, f, nil
}

func printDiagnostics(w io.Writer, sp *spy.Spy) {
	res := sp.InstallationDiagnostics()
	for _, o := range res.Outcomes {
		status := "ok"
		if !o.Installed {
			status = "failed: " + o.Reason
		}
		fmt.Fprintf(w, "  %-24s %s\n", o.Name, status)
	}
	if res.Installed {
		fmt.Fprintf(w, "installed via %s\n\n", res.Strategy)
	} else {
		fmt.Fprintf(w, "no strategy installed\n\n")
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	sp, f, err := startSession(cmd.Context())
	if err != nil {
		return err
	}
	for _, err := range f.Play() {
		slog.Warn("scripted call failed", "err", err)
	}

	out := cmd.OutOrStdout()
	printDiagnostics(out, sp)
	for _, l := range sp.Logs() {
		fmt.Fprintln(out, l)
	}

	if snapshotOut != "" {
		path, err := sp.SaveSnapshot(snapshotOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nsnapshot written to %s\n", path)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sp, f, err := startSession(ctx)
	if err != nil {
		return err
	}
	logger := sp.Session().Logger()

	if journalPath != "" {
		j, err := storage.OpenJournal(journalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		_, detach, err := sp.AttachJournal(j)
		if err != nil {
			return err
		}
		defer detach()
	}

	if archiveDir != "" {
		a, err := storage.OpenArchive(archiveDir, retention, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		actx, cancelArchive := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			a.Run(actx, flushEvery, sp.Session().Log.Rows)
			close(done)
		}()
		defer func() {
			cancelArchive()
			<-done
		}()
	}

	for _, err := range f.Play() {
		logger.Warn("scripted call failed", "err", err)
	}

	srv := server.NewInspectServer(sp, token)
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errc <- srv.Start(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	return nil
}

type decodedEntry struct {
	Kind      string   `yaml:"kind"`
	Grammar   string   `yaml:"grammar,omitempty"`
	Class     string   `yaml:"class,omitempty"`
	Path      []string `yaml:"path,omitempty"`
	Method    string   `yaml:"method,omitempty"`
	Replay    string   `yaml:"replay_method,omitempty"`
	Direction string   `yaml:"direction,omitempty"`
	Args      string   `yaml:"args,omitempty"`
	Text      string   `yaml:"text,omitempty"`
	Error     string   `yaml:"error,omitempty"`
}

func runDecode(cmd *cobra.Command, args []string) error {
	lines, err := readLines(cmd, args)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	for _, l := range lines {
		e, err := codec.Decode(l)
		out := decodedEntry{
			Kind:    e.Kind.String(),
			Grammar: string(e.Grammar),
			Text:    e.Text,
		}
		if err != nil {
			out.Error = err.Error()
		}
		if e.Kind.Actionable() {
			out.Class = string(e.Class)
			out.Path = e.Path
			out.Method = string(e.Method)
			out.Replay = string(e.ReplayMethod)
			out.Args = e.ArgsText
			if e.Kind != codec.DiscoveredLater {
				out.Direction = e.Direction.String()
			}
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

func runReplayCode(cmd *cobra.Command, args []string) error {
	code, err := replay.Generator{}.Generate(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	var query spyql.Node
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		var err error
		if query, err = spyql.Parse(args[0]); err != nil {
			return fmt.Errorf("parse query: %w", err)
		}
	}

	source := searchSource
	if source == "" {
		source = cfg.SnapshotPath
	}
	if source == "" {
		return errors.New("nothing to search: pass --from or set snapshot_path")
	}
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	var rows []engine.LogRow
	if info.IsDir() {
		a, err := storage.OpenArchive(source, 0, slog.Default())
		if err != nil {
			return err
		}
		defer a.Close()
		if rows, err = a.Scan(engine.Filter{}, query, searchLimit); err != nil {
			return err
		}
	} else {
		r, err := storage.NewSnapshotReader()
		if err != nil {
			return err
		}
		defer r.Close()
		all, err := r.ReadSnapshot(source, engine.Filter{})
		if err != nil {
			return err
		}
		for i := len(all) - 1; i >= 0; i-- {
			if query != nil && !spyql.Match(query, &all[i]) {
				continue
			}
			rows = append(rows, all[i])
			if searchLimit > 0 && len(rows) >= searchLimit {
				break
			}
		}
	}

	for _, r := range rows {
		fmt.Fprintln(cmd.OutOrStdout(), r.Raw)
	}
	return nil
}

func runPush(cmd *cobra.Command, args []string) error {
	lines, err := readLines(cmd, args)
	if err != nil {
		return err
	}
	c := client.New(client.Options{ServerURL: serverURL, Token: token})
	n, err := c.Ingest(cmd.Context(), lines...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d lines accepted\n", n)
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	lines, err := spy.ReadSnapshot(args[0])
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), l)
	}
	return nil
}
