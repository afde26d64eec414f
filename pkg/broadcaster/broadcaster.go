// Package broadcaster fans committed McpLog entries out to in-process
// subscribers — the "history + live subscribers" side-branch named in §2,
// kept deliberately narrow: no wire transport is specified by the
// specification, only the interface the core pipeline consumes, so this
// package exposes an in-process pub/sub primitive that a future WebSocket
// or gRPC layer could sit behind without changing the sink wiring.
//
// It is grounded on bobbydeveaux-starbucks-mugs's internal/server/websocket
// Broadcaster: a sync.Map client registry, a non-blocking select/default
// send so a slow subscriber never back-pressures the audit pipeline, and
// an atomic dropped-message counter per subscriber.
package broadcaster

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sentinel-audit/sentinel/pkg/mcplog"
)

// Subscriber is a single registered listener. Recv returns a channel that
// yields every McpLog broadcast after registration; it is closed when the
// subscriber is unregistered or the Broadcaster is closed.
type Subscriber struct {
	id      string
	ch      chan mcplog.McpLog
	Dropped atomic.Int64
}

// ID returns the subscriber's registration id.
func (s *Subscriber) ID() string { return s.id }

// Recv returns the receive-only channel of broadcast entries.
func (s *Subscriber) Recv() <-chan mcplog.McpLog { return s.ch }

// Broadcaster fans out committed log entries to registered subscribers and
// retains a bounded in-memory history of recent entries, readable through
// History. Subscribe does not replay that history; a subscriber receives
// only entries published after it registers. It is safe for concurrent use.
type Broadcaster struct {
	subs    sync.Map // map[string]*Subscriber
	bufSize int
	logger  *slog.Logger

	histMu  sync.Mutex
	history []mcplog.McpLog
	histCap int

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a Broadcaster. bufSize is the per-subscriber channel depth
// (default 64 if <= 0); histCap is the number of recent entries retained for
// History (default 256 if <= 0).
func New(logger *slog.Logger, bufSize, histCap int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	if histCap <= 0 {
		histCap = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{bufSize: bufSize, histCap: histCap, logger: logger}
}

// Subscribe registers a new subscriber and returns it. Call Unsubscribe to
// release it. A subscriber registered on a closed Broadcaster receives an
// already-closed channel.
func (b *Broadcaster) Subscribe(id string) *Subscriber {
	s := &Subscriber{id: id, ch: make(chan mcplog.McpLog, b.bufSize)}
	if b.closed.Load() {
		close(s.ch)
		return s
	}
	b.subs.Store(id, s)
	return s
}

// Unsubscribe removes and closes the subscriber with id. Unknown ids are a
// no-op.
func (b *Broadcaster) Unsubscribe(id string) {
	if v, loaded := b.subs.LoadAndDelete(id); loaded {
		close(v.(*Subscriber).ch)
	}
}

// Publish appends log to history and delivers it to every live subscriber
// via a non-blocking send; a subscriber whose buffer is full has the entry
// dropped and its Dropped counter incremented rather than stalling the
// caller, which is always the audit sink's hot path.
func (b *Broadcaster) Publish(log mcplog.McpLog) {
	if b.closed.Load() {
		return
	}

	b.histMu.Lock()
	b.history = append(b.history, log)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}
	b.histMu.Unlock()

	b.subs.Range(func(_, v any) bool {
		s := v.(*Subscriber)
		select {
		case s.ch <- log:
		default:
			s.Dropped.Add(1)
			b.logger.Warn("broadcaster: subscriber buffer full, dropping entry",
				slog.String("subscriber_id", s.id),
				slog.Uint64("event_id", log.EventID),
			)
		}
		return true
	})
}

// History returns a snapshot of the most recently published entries, oldest
// first, up to the configured history capacity.
func (b *Broadcaster) History() []mcplog.McpLog {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]mcplog.McpLog, len(b.history))
	copy(out, b.history)
	return out
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	n := 0
	b.subs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close unregisters and closes every subscriber channel. After Close,
// Publish is a no-op and Subscribe returns an already-closed channel.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.subs.Range(func(key, value any) bool {
			b.subs.Delete(key)
			close(value.(*Subscriber).ch)
			return true
		})
	})
}
