package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type HandlerOptions struct {
	Service   string
	Level     slog.Leveler  // default info
	BatchSize int           // default 100
	Interval  time.Duration // default 1s
	QueueSize int           // default 10000
}

// Handler is a slog.Handler that forwards records into a spy session as
// informational rows. Records are queued and sent in batches; a full
// queue drops the record.
type Handler struct {
	core   *handlerCore
	attrs  []slog.Attr
	groups []string
}

type handlerCore struct {
	client     *Client
	opts       HandlerOptions
	instanceID string
	queue      chan string
	done       chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

func NewHandler(c *Client, opts HandlerOptions) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	core := &handlerCore{
		client:     c,
		opts:       opts,
		instanceID: uuid.NewString(),
		queue:      make(chan string, opts.QueueSize),
		done:       make(chan struct{}),
	}
	core.wg.Add(1)
	go core.runLoop()
	return &Handler{core: core}
}

// InstanceID identifies this handler in forwarded rows.
func (h *Handler) InstanceID() string {
	return h.core.instanceID
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.core.opts.Level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString("# ")
	if h.core.opts.Service != "" {
		b.WriteString("[" + h.core.opts.Service + "] ")
	}
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve().Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", h.qualify(a.Key), a.Value.Resolve().Any())
		return true
	})
	line := strings.ReplaceAll(b.String(), "\n", " ")

	select {
	case h.core.queue <- line:
	default:
		fmt.Fprintln(os.Stderr, "callspy: handler queue full, dropping record")
	}
	return nil
}

// qualify prefixes key with the open groups.
func (h *Handler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

// Shutdown flushes queued records and stops the sender.
func (h *Handler) Shutdown() {
	h.core.once.Do(func() { close(h.core.done) })
	h.core.wg.Wait()
}

func (c *handlerCore) runLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	var batch []string
	send := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := c.client.Ingest(ctx, batch...); err != nil {
			fmt.Fprintf(os.Stderr, "callspy: forwarding %d records failed: %v\n", len(batch), err)
		}
		cancel()
		batch = nil
	}

	for {
		select {
		case line := <-c.queue:
			batch = append(batch, line)
			if len(batch) >= c.opts.BatchSize {
				send()
			}
		case <-ticker.C:
			send()
		case <-c.done:
			for {
				select {
				case line := <-c.queue:
					batch = append(batch, line)
				default:
					send()
					return
				}
			}
		}
	}
}
