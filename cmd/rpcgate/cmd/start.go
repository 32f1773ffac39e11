package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rpcgate/rpcgate/internal/adapter/inbound/rpcserver"
	"github.com/rpcgate/rpcgate/internal/config"
	"github.com/rpcgate/rpcgate/internal/domain/policy"
	"github.com/rpcgate/rpcgate/internal/domain/rpc"
	"github.com/rpcgate/rpcgate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the RPC server",
	Long: `Start the rpcgate JSON-RPC server.

The server listens on the configured addresses, serving JSON-RPC 2.0 over
plain HTTP POST and WebSocket on the same ports. GET /health is proxied to
the system_health method.

Examples:
  # Start with config file settings
  rpcgate start

  # Start with a specific config file
  rpcgate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, permissive CORS)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "rpcgate stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("rpcgate stopped")
	return nil
}

// waitGroupExecutor schedules server goroutines on a WaitGroup so shutdown
// can wait for all of them.
type waitGroupExecutor struct {
	wg sync.WaitGroup
}

func (e *waitGroupExecutor) Spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Call policy: compiled up front so a broken rule fails startup.
	var policyChecker rpcserver.PolicyChecker
	if len(cfg.Policies) > 0 {
		rules := make([]policy.Rule, len(cfg.Policies))
		for i, rc := range cfg.Policies {
			rules[i] = policy.Rule{
				Name:      rc.Name,
				Condition: rc.Condition,
				Action:    policy.Action(rc.Action),
			}
		}
		policyService, err := service.NewPolicyService(rules, logger)
		if err != nil {
			return fmt.Errorf("failed to compile call policies: %w", err)
		}
		policyChecker = policyService
	}

	// Metrics: dedicated Prometheus registry with runtime collectors.
	var observer rpcserver.Observer
	var promReg *prometheus.Registry
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		observer = rpcserver.NewMetrics(promReg)
	}

	systemService := service.NewSystemService(cfg.Server.Name, Version)

	registry := rpc.NewRegistry()
	systemService.RegisterMethods(registry)

	exec := &waitGroupExecutor{}
	handle, err := rpcserver.Start(ctx, rpcserver.Params{
		Addrs:          cfg.Server.ListenAddrs,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Config: rpcserver.Config{
			MaxConnections:          cfg.Limits.MaxConnections,
			MaxSubscriptionsPerConn: cfg.Limits.MaxSubscriptionsPerConn,
			MaxPayloadInMB:          cfg.Limits.MaxRequestMB,
			MaxPayloadOutMB:         cfg.Limits.MaxResponseMB,
		},
		Registry:   registry,
		Policy:     policyChecker,
		Observer:   observer,
		IDProvider: rpc.NewRandomStringIDProvider(rpc.DefaultIDLength),
		Executor:   exec,
		TokenHash:  cfg.Auth.TokenHash,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// The handle exists only now, after the server is already answering
	// health checks; SetConnectionCounter synchronizes the late wiring.
	systemService.SetConnectionCounter(handle.Connections)

	// Optional dedicated metrics listener.
	var metricsSrv *http.Server
	if promReg != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		exec.Spawn(func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener stopped", "error", err)
			}
		})
	}

	addrs := make([]string, len(handle.Addrs()))
	for i, a := range handle.Addrs() {
		addrs[i] = a.String()
	}
	logger.Info("rpcgate started",
		"version", Version,
		"addrs", strings.Join(addrs, ","),
		"dev_mode", cfg.DevMode,
		"policies", len(cfg.Policies),
		"auth", cfg.Auth.TokenHash != "",
		"metrics", cfg.Metrics.Enabled,
	)
	printBanner(Version, addrs, cfg.DevMode)

	<-ctx.Done()

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		shutdownTimeout = 5 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(stopCtx)
	}
	if err := handle.Stop(stopCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
	exec.wg.Wait()
	return nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr.
func printBanner(version string, addrs []string, devMode bool) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s rpcgate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	for _, addr := range addrs {
		fmt.Fprintf(os.Stderr, "  %-10s http://%s (ws://%s)\n", "RPC:", addr, addr)
	}
	fmt.Fprintf(os.Stderr, "  %-10s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the rpcgate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".rpcgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "rpcgate-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
