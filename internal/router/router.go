// Package router maps inbound events onto per-source sessions and
// serializes processing within each source. Each session owns a
// bounded FIFO queue and a single worker goroutine, so at most one
// classification is ever in flight per source while distinct sources
// proceed concurrently.
package router

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/pastukhov/yaic/internal/types"
)

// Handler processes one accepted event. imageChanged reports whether
// the event's image differs from the source's previous one.
type Handler func(ctx context.Context, event types.Event, imageChanged bool)

// Config bounds the router's resources.
type Config struct {
	QueueDepth int // per-source FIFO depth; events beyond it are dropped
	MaxSources int // hard cap on tracked sources; no eviction
}

// SourceStats is a point-in-time snapshot of one session.
type SourceStats struct {
	Accepted uint64
	Dropped  uint64
	Queued   int
	InFlight bool
}

// Router owns the source-session map. Sessions are created lazily on
// first event and live for the process lifetime.
type Router struct {
	cfg     Config
	handler Handler
	onDrop  func(sourceID string)

	mu       sync.Mutex
	sessions map[string]*session
	ctx      context.Context
	started  bool

	wg sync.WaitGroup
}

type session struct {
	sourceID string
	queue    chan queued

	mu        sync.Mutex
	lastImage []byte
	inFlight  bool
	accepted  uint64
	dropped   uint64
}

type queued struct {
	event        types.Event
	imageChanged bool
}

// New creates a router. onDrop, if non-nil, is invoked for every
// dropped event (metrics hook).
func New(cfg Config, handler Handler, onDrop func(sourceID string)) *Router {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 4
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 256
	}
	return &Router{
		cfg:      cfg,
		handler:  handler,
		onDrop:   onDrop,
		sessions: make(map[string]*session),
	}
}

// Start binds the router to its run context. Sessions created before
// Start are not allowed; Dispatch rejects events until then.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
	r.started = true
}

// Dispatch routes one event to its source session, creating the
// session on first sight. Returns false when the event was dropped
// (queue full, source cap reached, or router not running). The
// last-image cache is updated on acceptance, before classification,
// so it reflects the most recent reception even if processing fails.
func (r *Router) Dispatch(event types.Event) bool {
	// The enqueue stays under the router lock so Close cannot close a
	// queue between session lookup and send.
	r.mu.Lock()
	s, ok := r.sessionLocked(event.SourceID)
	if !ok {
		r.mu.Unlock()
		r.drop(event.SourceID, "source cap reached")
		return false
	}

	changed := s.updateLastImage(event.Image)

	select {
	case s.queue <- queued{event: event, imageChanged: changed}:
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		r.mu.Unlock()
		return true
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		r.mu.Unlock()
		r.drop(event.SourceID, "queue full")
		return false
	}
}

// Known reports whether a session already exists for the source.
func (r *Router) Known(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sourceID]
	return ok
}

// Sources returns the tracked source ids.
func (r *Router) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// LastImage returns a copy of the source's most recent image, or nil.
func (r *Router) LastImage(sourceID string) []byte {
	r.mu.Lock()
	s, ok := r.sessions[sourceID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastImage == nil {
		return nil
	}
	return append([]byte(nil), s.lastImage...)
}

// Stats snapshots all sessions.
func (r *Router) Stats() map[string]SourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]SourceStats, len(r.sessions))
	for id, s := range r.sessions {
		s.mu.Lock()
		stats[id] = SourceStats{
			Accepted: s.accepted,
			Dropped:  s.dropped,
			Queued:   len(s.queue),
			InFlight: s.inFlight,
		}
		s.mu.Unlock()
	}
	return stats
}

// Close stops accepting events and waits for in-flight work to finish.
func (r *Router) Close() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	for _, s := range r.sessions {
		close(s.queue)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// sessionLocked resolves or creates the session. Caller holds r.mu.
func (r *Router) sessionLocked(sourceID string) (*session, bool) {
	if !r.started {
		return nil, false
	}
	if s, ok := r.sessions[sourceID]; ok {
		return s, true
	}
	if len(r.sessions) >= r.cfg.MaxSources {
		return nil, false
	}

	s := &session{
		sourceID: sourceID,
		queue:    make(chan queued, r.cfg.QueueDepth),
	}
	r.sessions[sourceID] = s

	r.wg.Add(1)
	go r.run(r.ctx, s)

	return s, true
}

// run is the per-source worker loop; it is the only goroutine that
// invokes the handler for its source.
func (r *Router) run(ctx context.Context, s *session) {
	defer r.wg.Done()

	for item := range s.queue {
		if ctx.Err() != nil {
			// Shutting down; discard queued work without publishing.
			continue
		}

		s.setInFlight(true)
		r.handler(ctx, item.event, item.imageChanged)
		s.setInFlight(false)
	}
}

func (r *Router) drop(sourceID, reason string) {
	slog.Warn("event dropped", "source_id", sourceID, "reason", reason)
	if r.onDrop != nil {
		r.onDrop(sourceID)
	}
}

func (s *session) setInFlight(v bool) {
	s.mu.Lock()
	s.inFlight = v
	s.mu.Unlock()
}

// updateLastImage stores the new image and reports whether it differs
// from the previous one.
func (s *session) updateLastImage(image []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := !bytes.Equal(s.lastImage, image)
	s.lastImage = append([]byte(nil), image...)
	return changed
}
