// Package location defines the validated location record exchanged between
// session participants.
//
// A Record is a value object: once constructed it is never mutated, and
// equality is structural. Construction validates coordinate ranges and
// rejects non-finite numbers, so the rest of the system can treat a Record
// as trusted data.
package location

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidLocation is returned when a record fails validation.
var ErrInvalidLocation = errors.New("invalid location")

// DefaultTTL is how long a record is considered fresh after ingest.
const DefaultTTL = 30 * time.Second

// Record is a single validated geographic fix.
//
// ClientTime is the wall-clock timestamp reported by the client and is
// opaque to the server beyond monotonicity checks. ObservedAt is the
// server-side ingest time used for TTL decisions.
type Record struct {
	Lat      float64
	Lng      float64
	Accuracy float64

	ClientTime time.Time
	ObservedAt time.Time

	// Optional fields; nil when the client did not report them.
	Speed    *float64
	Heading  *float64
	Altitude *float64
}

// New constructs a Record from client-supplied values, stamping ObservedAt
// with the current time. Returns ErrInvalidLocation if any numeric field is
// non-finite, latitude is outside [-90, 90], longitude is outside
// [-180, 180], or accuracy is negative.
func New(lat, lng, accuracy float64, clientTime time.Time) (Record, error) {
	return NewAt(lat, lng, accuracy, clientTime, time.Now())
}

// NewAt is like New but with an explicit ingest time. Primarily used by
// tests that need deterministic TTL behavior.
func NewAt(lat, lng, accuracy float64, clientTime, observedAt time.Time) (Record, error) {
	if err := Validate(lat, lng, accuracy); err != nil {
		return Record{}, err
	}

	return Record{
		Lat:        lat,
		Lng:        lng,
		Accuracy:   accuracy,
		ClientTime: clientTime,
		ObservedAt: observedAt,
	}, nil
}

// Validate checks coordinate and accuracy bounds without building a record.
func Validate(lat, lng, accuracy float64) error {
	if !isFinite(lat) || !isFinite(lng) || !isFinite(accuracy) {
		return fmt.Errorf("%w: non-finite coordinate", ErrInvalidLocation)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidLocation, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidLocation, lng)
	}
	if accuracy < 0 {
		return fmt.Errorf("%w: negative accuracy %v", ErrInvalidLocation, accuracy)
	}
	return nil
}

// Stale reports whether the record is older than ttl at the given instant.
func (r Record) Stale(ttl time.Duration, now time.Time) bool {
	return now.Sub(r.ObservedAt) > ttl
}

// Equal reports structural equality with another record.
func (r Record) Equal(other Record) bool {
	return r.Lat == other.Lat &&
		r.Lng == other.Lng &&
		r.Accuracy == other.Accuracy &&
		r.ClientTime.Equal(other.ClientTime) &&
		r.ObservedAt.Equal(other.ObservedAt) &&
		floatPtrEqual(r.Speed, other.Speed) &&
		floatPtrEqual(r.Heading, other.Heading) &&
		floatPtrEqual(r.Altitude, other.Altitude)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
