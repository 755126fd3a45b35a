package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/pkg/spyql"
	"github.com/coffersTech/callspy/internal/replay"
	"github.com/coffersTech/callspy/spy"
)

// InspectServer exposes a running spy over HTTP for external panels and
// scripts.
type InspectServer struct {
	spy    *spy.Spy
	token  string // empty disables auth
	srv    *http.Server
	parser fastjson.ParserPool
	logger *slog.Logger
}

func NewInspectServer(sp *spy.Spy, token string) *InspectServer {
	return &InspectServer{
		spy:    sp,
		token:  token,
		logger: sp.Session().Logger().With("component", "http"),
	}
}

// Handler returns the routed handler.
func (s *InspectServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/logs", s.AuthMiddleware(http.HandlerFunc(s.handleLogs)))
	mux.Handle("/api/ingest", s.AuthMiddleware(http.HandlerFunc(s.handleIngest)))
	mux.Handle("/api/search", s.AuthMiddleware(http.HandlerFunc(s.handleQuery)))
	mux.Handle("/api/histogram", s.AuthMiddleware(http.HandlerFunc(s.handleHistogram)))
	mux.Handle("/api/stats", s.AuthMiddleware(http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/diagnostics", s.AuthMiddleware(http.HandlerFunc(s.handleDiagnostics)))
	mux.Handle("/api/replay", s.AuthMiddleware(http.HandlerFunc(s.handleReplay)))
	mux.Handle("/api/filters", s.AuthMiddleware(http.HandlerFunc(s.handleFilters)))
	mux.Handle("/api/active", s.AuthMiddleware(http.HandlerFunc(s.handleActive)))
	mux.Handle("/api/snapshot", s.AuthMiddleware(http.HandlerFunc(s.handleSnapshot)))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Start runs the HTTP server.
func (s *InspectServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *InspectServer) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// AuthMiddleware checks for the configured bearer token.
func (s *InspectServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *InspectServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.spy.Logs())
	case http.MethodDelete:
		s.spy.ClearLogs()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleIngest appends lines produced elsewhere. The body is a JSON string,
// an object with a "line" field, or an array of either.
func (s *InspectServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var lines []string
	pushOne := func(val *fastjson.Value) bool {
		switch val.Type() {
		case fastjson.TypeString:
			lines = append(lines, string(val.GetStringBytes()))
		case fastjson.TypeObject:
			lines = append(lines, string(val.GetStringBytes("line")))
		default:
			return false
		}
		return true
	}

	valid := true
	s.withBody(w, r, func(v *fastjson.Value) {
		if v.Type() == fastjson.TypeArray {
			arr, _ := v.Array()
			for _, val := range arr {
				valid = valid && pushOne(val)
			}
		} else {
			valid = pushOne(v)
		}
		if !valid {
			http.Error(w, "Invalid entry", http.StatusBadRequest)
		}
	})
	if !valid || lines == nil {
		return
	}

	for _, l := range lines {
		s.spy.PushLog(l)
	}
	s.writeJSON(w, map[string]int{"accepted": len(lines)})
}

// handleQuery processes GET /api/search requests.
func (s *InspectServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := engine.Filter{
		MinTime: int64Param(q.Get("min_ts"), 0),
		MaxTime: int64Param(q.Get("max_ts"), 0),
		Class:   model.EndpointClass(q.Get("class")),
		Query:   q.Get("q"),
	}
	limit := int(int64Param(q.Get("limit"), 100))

	node, err := parseQuery(filter.Query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, s.spy.Session().Log.Search(filter, node, limit))
}

func (s *InspectServer) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	start := int64Param(q.Get("start"), 0) * 1_000_000 // ms to nanos
	end := int64Param(q.Get("end"), 0) * 1_000_000
	interval := int64Param(q.Get("interval"), 1) * 1_000_000_000 // seconds to nanos

	node, err := parseQuery(q.Get("q"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, s.spy.Session().Log.Histogram(start, end, interval, node))
}

func (s *InspectServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.spy.Stats())
}

func (s *InspectServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.spy.InstallationDiagnostics())
}

// handleReplay takes {"line": "..."}. With ?mode=code it returns the
// generated snippet instead of executing.
func (s *InspectServer) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var line string
	parsed := false
	s.withBody(w, r, func(v *fastjson.Value) {
		line = string(v.GetStringBytes("line"))
		parsed = true
	})
	if !parsed {
		return
	}

	if r.URL.Query().Get("mode") == "code" {
		code, err := s.spy.GenerateReplayCode(line)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, code)
		return
	}

	if err := s.spy.ExecuteReplay(r.Context(), line); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFilters takes {"action": "exclude"|"block", "name": "..."} on
// POST, or {"action": ..., "line": "..."} to filter by entry. DELETE
// clears every filter.
func (s *InspectServer) handleFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		s.spy.ClearFilters()
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var action, name, line string
	parsed := false
	s.withBody(w, r, func(v *fastjson.Value) {
		action = string(v.GetStringBytes("action"))
		name = string(v.GetStringBytes("name"))
		line = string(v.GetStringBytes("line"))
		parsed = true
	})
	if !parsed {
		return
	}

	var err error
	switch {
	case action == "exclude" && name != "":
		s.spy.ExcludeByName(name)
	case action == "block" && name != "":
		s.spy.BlockByName(name)
	case action == "exclude" && line != "":
		err = s.spy.ExcludeEntry(line)
	case action == "block" && line != "":
		err = s.spy.BlockEntry(line)
	default:
		http.Error(w, "Invalid filter", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *InspectServer) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.withBody(w, r, func(v *fastjson.Value) {
		s.spy.SetActive(v.GetBool("active"))
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *InspectServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := s.spy.SaveSnapshot(r.URL.Query().Get("path"))
	if err != nil {
		s.logger.Error("snapshot failed", "err", err)
		http.Error(w, "Snapshot failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]string{"path": path})
}

// withBody parses the request body and hands it to fn. The value is only
// valid inside fn.
func (s *InspectServer) withBody(w http.ResponseWriter, r *http.Request, fn func(v *fastjson.Value)) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	fn(v)
}

func (s *InspectServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("JSON encode error", "err", err)
	}
}

func parseQuery(q string) (spyql.Node, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	return spyql.Parse(q)
}

func int64Param(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, replay.ErrNoPath), errors.Is(err, replay.ErrEvaluation):
		return http.StatusBadRequest
	case errors.Is(err, replay.ErrResolution), errors.Is(err, spy.ErrNodeNotFound):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
