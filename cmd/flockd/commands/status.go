package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/flock/internal/cli/render"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the flock server.

This command checks the PID file and the health endpoints and reports
process state, uptime and the number of live sessions.

Examples:
  # Check status (uses default settings)
  flockd status

  # Check status with custom API port
  flockd status --api-port 9080

  # Output as JSON
  flockd status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/flock/flockd.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// healthReport is the client-side view of GET /health.
type healthReport struct {
	Status string `json:"status"`
	Data   struct {
		StartedAt string `json:"started_at"`
		Uptime    string `json:"uptime"`
	} `json:"data"`
	Error string `json:"error"`
}

// readyReport is the client-side view of GET /health/ready.
type readyReport struct {
	Status string `json:"status"`
	Data   struct {
		ActiveSessions int `json:"active_sessions"`
	} `json:"data"`
}

// ServerStatus is what flockd status prints.
type ServerStatus struct {
	Running        bool   `json:"running" yaml:"running"`
	Healthy        bool   `json:"healthy" yaml:"healthy"`
	PID            int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartedAt      string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime         string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	ActiveSessions int    `json:"active_sessions" yaml:"active_sessions"`
	Message        string `json:"message" yaml:"message"`
}

// TableHeader implements render.Tabular.
func (s ServerStatus) TableHeader() []string {
	return []string{"STATE", "PID", "STARTED", "UPTIME", "SESSIONS"}
}

// TableRows implements render.Tabular.
func (s ServerStatus) TableRows() [][]string {
	state := "stopped"
	switch {
	case s.Running && s.Healthy:
		state = "running"
	case s.Running:
		state = "unhealthy"
	}

	pid := ""
	if s.PID != 0 {
		pid = strconv.Itoa(s.PID)
	}

	return [][]string{{
		state,
		pid,
		formatStarted(s.StartedAt),
		formatUptime(s.Uptime),
		strconv.Itoa(s.ActiveSessions),
	}}
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := ServerStatus{Message: "Server is not running"}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pid, ok := livePID(pidPath); ok {
		status.Running = true
		status.PID = pid
	}

	probeHealth(&status)

	if err := render.Print(os.Stdout, format, status); err != nil {
		return err
	}
	if format == render.Table {
		fmt.Printf("\n%s\n", status.Message)
	}
	return nil
}

// livePID reads the PID file and checks the process actually exists.
func livePID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// FindProcess always succeeds on Unix; signal 0 probes for liveness.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

// probeHealth fills the status from the health endpoints. A foreground
// server has no PID file, so a reachable endpoint also implies running.
func probeHealth(status *ServerStatus) {
	client := &http.Client{Timeout: 2 * time.Second}
	base := fmt.Sprintf("http://localhost:%d", statusAPIPort)

	resp, err := client.Get(base + "/health")
	if err != nil {
		if status.Running {
			status.Message = "Server process exists but health check failed"
		}
		return
	}
	defer func() { _ = resp.Body.Close() }()

	var health healthReport
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		status.Running = true
		status.Message = "Server is running but health response invalid"
		return
	}

	status.Running = true
	status.Healthy = health.Status == "healthy"
	status.StartedAt = health.Data.StartedAt
	status.Uptime = health.Data.Uptime
	if status.Healthy {
		status.Message = "Server is running and healthy"
	} else {
		status.Message = fmt.Sprintf("Server is running but unhealthy: %s", health.Error)
	}

	readyResp, err := client.Get(base + "/health/ready")
	if err != nil {
		return
	}
	defer func() { _ = readyResp.Body.Close() }()

	var ready readyReport
	if err := json.NewDecoder(readyResp.Body).Decode(&ready); err == nil {
		status.ActiveSessions = ready.Data.ActiveSessions
	}
}

// formatStarted renders an RFC3339 timestamp in local time.
func formatStarted(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("Mon Jan 2 15:04:05 2006")
}

// formatUptime compacts a Go duration string into days/hours/minutes.
func formatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh%dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
