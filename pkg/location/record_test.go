package location

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	clientTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("valid record", func(t *testing.T) {
		rec, err := New(37.7749, -122.4194, 5, clientTime)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Lat != 37.7749 || rec.Lng != -122.4194 {
			t.Errorf("coordinates not preserved: %+v", rec)
		}
		if !rec.ClientTime.Equal(clientTime) {
			t.Errorf("client time not preserved: %v", rec.ClientTime)
		}
		if rec.ObservedAt.IsZero() {
			t.Error("expected ObservedAt to be stamped")
		}
	})

	t.Run("boundary coordinates accepted", func(t *testing.T) {
		cases := []struct {
			lat, lng float64
		}{
			{90, 0}, {-90, 0}, {0, 180}, {0, -180}, {90, 180}, {-90, -180},
		}
		for _, c := range cases {
			if _, err := New(c.lat, c.lng, 0, clientTime); err != nil {
				t.Errorf("New(%v, %v) = %v, want nil", c.lat, c.lng, err)
			}
		}
	})

	t.Run("out of range rejected", func(t *testing.T) {
		cases := []struct {
			name          string
			lat, lng, acc float64
		}{
			{"lat above", 90.0001, 0, 0},
			{"lat below", -90.0001, 0, 0},
			{"lng above", 0, 180.0001, 0},
			{"lng below", 0, -180.0001, 0},
			{"negative accuracy", 0, 0, -0.1},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				_, err := New(c.lat, c.lng, c.acc, clientTime)
				if !errors.Is(err, ErrInvalidLocation) {
					t.Errorf("expected ErrInvalidLocation, got %v", err)
				}
			})
		}
	})

	t.Run("non-finite rejected", func(t *testing.T) {
		for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			if _, err := New(bad, 0, 0, clientTime); !errors.Is(err, ErrInvalidLocation) {
				t.Errorf("New(lat=%v) should fail", bad)
			}
			if _, err := New(0, bad, 0, clientTime); !errors.Is(err, ErrInvalidLocation) {
				t.Errorf("New(lng=%v) should fail", bad)
			}
			if _, err := New(0, 0, bad, clientTime); !errors.Is(err, ErrInvalidLocation) {
				t.Errorf("New(accuracy=%v) should fail", bad)
			}
		}
	})

	t.Run("zero accuracy accepted", func(t *testing.T) {
		if _, err := New(0, 0, 0, clientTime); err != nil {
			t.Errorf("accuracy=0 should be valid: %v", err)
		}
	})
}

func TestStale(t *testing.T) {
	now := time.Now()
	rec, err := NewAt(1, 2, 3, now, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Stale(DefaultTTL, now) {
		t.Error("fresh record reported stale")
	}
	if rec.Stale(DefaultTTL, now.Add(DefaultTTL)) {
		t.Error("record at exactly TTL should not be stale")
	}
	if !rec.Stale(DefaultTTL, now.Add(DefaultTTL+time.Millisecond)) {
		t.Error("record past TTL should be stale")
	}
}

func TestEqual(t *testing.T) {
	ts := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	a, _ := NewAt(1, 2, 3, ts, ts)
	b, _ := NewAt(1, 2, 3, ts, ts)

	if !a.Equal(b) {
		t.Error("structurally identical records should be equal")
	}

	c := b
	c.Lng = 2.5
	if a.Equal(c) {
		t.Error("records with different coordinates should not be equal")
	}

	speed := 1.5
	d := b
	d.Speed = &speed
	if a.Equal(d) {
		t.Error("records differing in optional fields should not be equal")
	}

	speed2 := 1.5
	e := b
	e.Speed = &speed2
	if !d.Equal(e) {
		t.Error("optional fields should compare by value")
	}
}
