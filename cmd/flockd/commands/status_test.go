package commands

import (
	"testing"
)

func TestServerStatusTableRows(t *testing.T) {
	cases := []struct {
		name   string
		status ServerStatus
		state  string
	}{
		{"healthy", ServerStatus{Running: true, Healthy: true, PID: 4242}, "running"},
		{"process without health", ServerStatus{Running: true, PID: 4242}, "unhealthy"},
		{"stopped", ServerStatus{}, "stopped"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows := tc.status.TableRows()
			if len(rows) != 1 {
				t.Fatalf("expected one row, got %d", len(rows))
			}
			if rows[0][0] != tc.state {
				t.Errorf("state = %q, want %q", rows[0][0], tc.state)
			}
			if len(rows[0]) != len(tc.status.TableHeader()) {
				t.Errorf("row has %d cells, header has %d", len(rows[0]), len(tc.status.TableHeader()))
			}
		})
	}
}

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"72h30m15s", "3d0h30m"},
		{"2h5m9s", "2h5m9s"},
		{"5m9s", "5m9s"},
		{"42s", "42s"},
		{"garbage", "garbage"},
	}
	for _, tc := range cases {
		if got := formatUptime(tc.in); got != tc.want {
			t.Errorf("formatUptime(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
