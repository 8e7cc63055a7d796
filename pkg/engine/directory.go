package engine

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/flock/internal/logger"
	"github.com/marmos91/flock/pkg/protocol"
)

// SessionInfo is the control-plane view of a session the directory needs
// before starting a coordinator.
type SessionInfo struct {
	ID        string
	ExpiresAt time.Time
}

// SessionValidator checks that a session exists and is still live. The
// control-plane store implements this; returning ErrSessionNotFound (or any
// error) prevents a coordinator from starting.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (SessionInfo, error)
}

// Directory maps session IDs to their live coordinators. Coordinators are
// started lazily on first use and remove themselves when their session
// ends.
type Directory struct {
	cfg       Config
	metrics   Metrics
	validator SessionValidator

	mu       sync.Mutex
	sessions map[string]*Coordinator
}

// NewDirectory creates an empty directory. metrics may be nil.
func NewDirectory(cfg Config, m Metrics, validator SessionValidator) *Directory {
	return &Directory{
		cfg:       cfg.Normalize(),
		metrics:   m,
		validator: validator,
		sessions:  make(map[string]*Coordinator),
	}
}

// Get returns the live coordinator for a session, if one is running.
func (d *Directory) Get(sessionID string) (*Coordinator, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.sessions[sessionID]
	return c, ok
}

// GetOrStart returns the coordinator for a session, starting one after
// validating the session against the control plane. Two concurrent callers
// for the same session get the same coordinator.
func (d *Directory) GetOrStart(ctx context.Context, sessionID string) (*Coordinator, error) {
	d.mu.Lock()
	if c, ok := d.sessions[sessionID]; ok {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()

	info, err := d.validator.ValidateSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.sessions[sessionID]; ok {
		return c, nil
	}

	c := StartCoordinator(info.ID, info.ExpiresAt, d.cfg, d.metrics, d.remove)
	d.sessions[sessionID] = c
	return c, nil
}

// remove drops a coordinator from the map once its session has ended. The
// identity check guards against removing a successor that reused the same
// session ID.
func (d *Directory) remove(c *Coordinator, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.sessions[c.SessionID()]; ok && current == c {
		delete(d.sessions, c.SessionID())
	}
}

// Len returns the number of live sessions.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Stats snapshots every live session. Sessions that end while the snapshot
// is being taken are skipped.
func (d *Directory) Stats(ctx context.Context) []Stats {
	d.mu.Lock()
	coords := make([]*Coordinator, 0, len(d.sessions))
	for _, c := range d.sessions {
		coords = append(coords, c)
	}
	d.mu.Unlock()

	out := make([]Stats, 0, len(coords))
	for _, c := range coords {
		s, err := c.Stats(ctx)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Shutdown ends every live session with the given reason and waits for the
// workers to exit, bounded by ctx.
func (d *Directory) Shutdown(ctx context.Context, reason string) error {
	d.mu.Lock()
	coords := make([]*Coordinator, 0, len(d.sessions))
	for _, c := range d.sessions {
		coords = append(coords, c)
	}
	d.mu.Unlock()

	for _, c := range coords {
		_ = c.End(ctx, reason)
	}
	for _, c := range coords {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RunCleanup periodically sweeps for coordinators whose expiry has passed
// but whose timer was missed (clock jumps, process suspends). Blocks until
// ctx is cancelled; run it on its own goroutine.
func (d *Directory) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepExpired(ctx)
		}
	}
}

func (d *Directory) sweepExpired(ctx context.Context) {
	now := time.Now()

	d.mu.Lock()
	var expired []*Coordinator
	for _, c := range d.sessions {
		if exp := c.ExpiresAt(); !exp.IsZero() && now.After(exp) {
			expired = append(expired, c)
		}
	}
	d.mu.Unlock()

	for _, c := range expired {
		logger.Warn("sweeping expired session",
			logger.SessionID(c.SessionID()))
		_ = c.End(ctx, protocol.ReasonExpired)
	}
}
