package engine

import (
	"fmt"
	"time"

	"github.com/marmos91/flock/pkg/location"
)

// Participant is the in-memory presence record of one session member.
// Owned by the coordinator worker; never accessed concurrently.
type Participant struct {
	UserID       string
	DisplayName  string
	AvatarColor  string
	JoinedAt     time.Time
	LastActivity time.Time

	// queue is the outbound buffer of the current attachment, nil while
	// the participant is detached.
	queue *Queue

	// loc is the latest accepted fix, nil until the first update.
	loc *location.Record
}

// Attached reports whether the participant has a live attachment.
func (p *Participant) Attached() bool {
	return p.queue != nil
}

// Location returns the latest accepted fix, or nil.
func (p *Participant) Location() *location.Record {
	return p.loc
}

// Registry tracks the participants of a single session.
//
// It is deliberately not safe for concurrent use: all access happens on the
// session's coordinator goroutine, which serializes every mutation. Keeping
// the registry lock-free makes the serialization point explicit.
type Registry struct {
	max     int
	byID    map[string]*Participant
	ordered []*Participant
}

// NewRegistry creates a registry capped at max participants.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:  max,
		byID: make(map[string]*Participant),
	}
}

// Add inserts a new participant. Returns ErrSessionFull at capacity and an
// error when the user is already present.
func (r *Registry) Add(userID, displayName, avatarColor string, now time.Time) (*Participant, error) {
	if _, ok := r.byID[userID]; ok {
		return nil, fmt.Errorf("participant %s already present", userID)
	}
	if len(r.byID) >= r.max {
		return nil, ErrSessionFull
	}

	p := &Participant{
		UserID:       userID,
		DisplayName:  displayName,
		AvatarColor:  avatarColor,
		JoinedAt:     now,
		LastActivity: now,
	}
	r.byID[userID] = p
	r.ordered = append(r.ordered, p)
	return p, nil
}

// Get returns the participant or nil.
func (r *Registry) Get(userID string) *Participant {
	return r.byID[userID]
}

// Remove deletes the participant, preserving join order of the rest.
// Returns the removed participant or nil.
func (r *Registry) Remove(userID string) *Participant {
	p, ok := r.byID[userID]
	if !ok {
		return nil
	}
	delete(r.byID, userID)
	for i, q := range r.ordered {
		if q == p {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
	return p
}

// Attach installs the queue as the participant's current attachment and
// returns the previous queue, or nil if the participant was detached.
func (r *Registry) Attach(userID string, q *Queue, now time.Time) (*Queue, error) {
	p, ok := r.byID[userID]
	if !ok {
		return nil, ErrNotParticipant
	}
	prev := p.queue
	p.queue = q
	p.LastActivity = now
	return prev, nil
}

// Detach clears the attachment, but only when q still is the current one.
// A stale detach from a superseded connection is a no-op.
func (r *Registry) Detach(userID string, q *Queue) bool {
	p, ok := r.byID[userID]
	if !ok || p.queue != q {
		return false
	}
	p.queue = nil
	return true
}

// SetLocation stores a fix if it advances the participant's client clock.
// An update whose client timestamp is not strictly after the stored one is
// rejected with ErrStaleLocation; equal timestamps count as replays.
func (r *Registry) SetLocation(userID string, rec location.Record) error {
	p, ok := r.byID[userID]
	if !ok {
		return ErrNotParticipant
	}
	if p.loc != nil && !rec.ClientTime.After(p.loc.ClientTime) {
		return ErrStaleLocation
	}
	p.loc = &rec
	p.LastActivity = rec.ObservedAt
	return nil
}

// Touch bumps the participant's activity clock.
func (r *Registry) Touch(userID string, now time.Time) {
	if p, ok := r.byID[userID]; ok {
		p.LastActivity = now
	}
}

// Len returns the participant count.
func (r *Registry) Len() int {
	return len(r.byID)
}

// AttachedCount returns the number of live attachments.
func (r *Registry) AttachedCount() int {
	n := 0
	for _, p := range r.ordered {
		if p.Attached() {
			n++
		}
	}
	return n
}

// All returns the participants in join order. The slice is shared; callers
// on the worker goroutine must not retain it across commands.
func (r *Registry) All() []*Participant {
	return r.ordered
}

// FreshLocations returns the participants holding a fix no older than ttl,
// in join order.
func (r *Registry) FreshLocations(ttl time.Duration, now time.Time) []*Participant {
	var out []*Participant
	for _, p := range r.ordered {
		if p.loc != nil && !p.loc.Stale(ttl, now) {
			out = append(out, p)
		}
	}
	return out
}
