package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/flock/internal/controlplane/api/auth"
	"github.com/marmos91/flock/internal/logger"
	"github.com/marmos91/flock/internal/telemetry"
	"github.com/marmos91/flock/pkg/adapter/ws"
	"github.com/marmos91/flock/pkg/config"
	"github.com/marmos91/flock/pkg/controlplane"
	"github.com/marmos91/flock/pkg/controlplane/api"
	"github.com/marmos91/flock/pkg/controlplane/store"
	"github.com/marmos91/flock/pkg/engine"
	"github.com/marmos91/flock/pkg/metrics"
	"github.com/marmos91/flock/pkg/protocol"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/flock/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the flock server",
	Long: `Start the flock server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/flock/config.yaml.

Examples:
  # Start in background (default)
  flockd start

  # Start in foreground
  flockd start --foreground

  # Start with custom config file
  flockd start --config /etc/flock/config.yaml

  # Start with environment variable overrides
  FLOCK_LOGGING_LEVEL=DEBUG flockd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/flock/flockd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/flock/flockd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "flock",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	logger.Info("flock server starting", "version", Version)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}

	// Initialize metrics (if enabled)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer("", cfg.Metrics.Port, "/metrics")
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Initialize the control plane store (session and participant records)
	cpStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize control plane store: %w", err)
	}
	defer func() {
		if err := cpStore.Close(); err != nil {
			logger.Error("store close error", logger.Err(err))
		}
	}()

	// Token service shared by the REST API and the WebSocket endpoint
	secret := cfg.ControlPlane.GetJWTSecret()
	if secret == "" {
		return fmt.Errorf("no JWT secret configured; set %s or controlplane.jwt.secret in the config file", api.EnvControlPlaneSecret)
	}
	tokens, err := auth.NewJWTService(auth.JWTConfig{
		Secret:           secret,
		MaxTokenDuration: cfg.ControlPlane.JWT.MaxTokenDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Session engine: one coordinator goroutine per live session
	directory := engine.NewDirectory(cfg.Engine, metrics.NewEngineMetrics(), controlplane.NewEngineValidator(cpStore))
	logger.Info("Session engine configured",
		"max_participants", cfg.Engine.MaxParticipants,
		"location_ttl", cfg.Engine.LocationTTL,
		"absence_timeout", cfg.Engine.AbsenceTimeout)

	// WebSocket attachment endpoint
	wsHandler := ws.NewHandler(directory, tokens, cpStore, cfg.WebSocket)

	// REST API server (also mounts the WebSocket endpoint)
	apiServer, err := api.NewServer(cfg.ControlPlane, api.Deps{
		Store:     cpStore,
		Directory: directory,
		Tokens:    tokens,
		WS:        wsHandler,
		BaseURL:   cfg.ControlPlane.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	logger.Info("API server configured", "port", cfg.ControlPlane.Port)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Background sweeps: expired coordinators and expired database rows
	go directory.RunCleanup(ctx, cfg.Cleanup.Interval)
	go runStoreCleanup(ctx, cpStore, cfg.Cleanup)

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
	}

	// Start API server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		// End live coordinators first so attached clients get a final
		// session_ended frame before the listener goes away.
		if err := directory.Shutdown(shutdownCtx, protocol.ReasonInternalError); err != nil {
			logger.Error("engine shutdown error", logger.Err(err))
		}
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.Err(err))
			return err
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", logger.Err(err))
			}
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// runStoreCleanup periodically marks expired sessions as ended and deletes
// sessions past the retention window.
func runStoreCleanup(ctx context.Context, s store.Store, cfg config.CleanupConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ended, err := s.CleanupExpired(ctx, time.Now(), cfg.Retention)
			if err != nil {
				logger.Warn("session cleanup failed", logger.Err(err))
				continue
			}
			if ended > 0 {
				logger.Info("expired sessions swept", logger.Count(ended))
			}
		}
	}
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	// Determine state directory for PID and log files
	stateDir := GetDefaultStateDir()

	// Create state directory if it doesn't exist
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "flockd.pid")
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				// Check if process is still running
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("flockd is already running (PID %d)\nUse 'flockd stop' to stop the running instance", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "flockd.log")
	}

	// Get the executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments for the daemon process
	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	// Create the daemon process
	cmd := exec.Command(executable, daemonArgs...)

	// Open log file for stdout/stderr
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// Start the daemon
	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("flockd started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'flockd stop' to stop the server")
	fmt.Println("Use 'flockd status' to check server status")

	return nil
}
