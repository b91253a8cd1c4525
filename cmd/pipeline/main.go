// Package main is the entry point for the MEV arbitrage pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/fd1az/arbitrage-pipeline/business/arbitrage"
	arbitrageDI "github.com/fd1az/arbitrage-pipeline/business/arbitrage/di"
	"github.com/fd1az/arbitrage-pipeline/business/blockchain"
	blockchainDI "github.com/fd1az/arbitrage-pipeline/business/blockchain/di"
	blockchainDomain "github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
	"github.com/fd1az/arbitrage-pipeline/business/bundle"
	"github.com/fd1az/arbitrage-pipeline/business/market"
	"github.com/fd1az/arbitrage-pipeline/business/opportunity"
	"github.com/fd1az/arbitrage-pipeline/business/profit"
	"github.com/fd1az/arbitrage-pipeline/business/risk"
	riskDI "github.com/fd1az/arbitrage-pipeline/business/risk/di"
	"github.com/fd1az/arbitrage-pipeline/business/risk/infra/operator"
	"github.com/fd1az/arbitrage-pipeline/business/submission"
	submissionDI "github.com/fd1az/arbitrage-pipeline/business/submission/di"
	"github.com/fd1az/arbitrage-pipeline/internal/apm"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
	"github.com/fd1az/arbitrage-pipeline/internal/health"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/metrics"
	"github.com/fd1az/arbitrage-pipeline/internal/monolith"
	"github.com/fd1az/arbitrage-pipeline/pkg/ui"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	tuiFlag := flag.Bool("tui", false, "Run with the terminal dashboard instead of log output")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arbitrage-pipeline %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if !*tuiFlag {
			fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		}
		cancel()
	}()

	if err := run(ctx, *configPath, *tuiFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, tuiMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.App.TUIMode = tuiMode

	logLevel := logger.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}

	var log *logger.Logger
	if tuiMode {
		// Only warnings reach the dashboard's log panel; stderr would corrupt the alt screen.
		log = logger.New(ui.LogWriter{}, max(logLevel, logger.LevelWarn), cfg.App.Name, nil)
	} else {
		log = logger.New(os.Stderr, logLevel, cfg.App.Name, nil)
		log.Info(ctx, "starting arbitrage pipeline",
			"version", version,
			"environment", cfg.App.Environment,
		)
	}

	if cfg.Telemetry.Enabled {
		stop, err := setupTelemetry(ctx, cfg.Telemetry, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	mono, err := monolith.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	// Dependency order: every module resolves only what earlier ones registered.
	modules := []monolith.Module{
		&blockchain.Module{},
		&market.Module{},
		&opportunity.Module{},
		&profit.Module{},
		&risk.Module{},
		&submission.Module{},
		&bundle.Module{},
		&arbitrage.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	if tuiMode {
		return runTUI(ctx, func(ctx context.Context) error {
			ui.Send(ui.StartupMsg{Step: "config", Status: "done"})
			if err := mono.StartModules(ctx, modules...); err != nil {
				return fmt.Errorf("failed to start modules: %w", err)
			}
			for _, step := range []string{"ethereum", "market", "relays"} {
				ui.Send(ui.StartupMsg{Step: step, Status: "connected"})
			}
			go reportConnections(ctx, mono.Services(), 2*time.Second)
			return runPipeline(ctx, mono, log)
		})
	}

	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}
	return runPipeline(ctx, mono, log)
}

// setupTelemetry installs the tracer and meter providers and starts the
// Prometheus endpoint. The returned func flushes and stops all three.
func setupTelemetry(ctx context.Context, cfg config.TelemetryConfig, log logger.LoggerInterface) (func(), error) {
	traceProvider, err := apm.NewTraceProvider(ctx, apm.Config{
		Provider:    apm.Provider(cfg.TraceProvider),
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Headers:     apm.ParseHeaders(cfg.OTLPHeaders),
		SampleRatio: cfg.SampleRatio,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	opts := []metrics.OptionFn{
		metrics.WithServiceName(cfg.ServiceName),
		metrics.WithProviderConfig(metrics.ProviderCfg{Provider: metrics.PrometheusProvider}),
	}
	if cfg.MetricsOTLP != "" {
		opts = append(opts, metrics.WithProviderConfig(
			metrics.NewOtelCollectorConfig(cfg.MetricsOTLP, apm.ParseHeaders(cfg.OTLPHeaders), false)))
	}
	meterProvider, err := metrics.NewMetricProvider(ctx, opts...)
	if err != nil {
		_ = traceProvider.Stop()
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	port := cfg.PrometheusPort
	if port == 0 {
		port = 9090
	}
	promServer := metrics.NewPrometheusServer(port)
	go func() {
		if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "prometheus server stopped", "error", err)
		}
	}()
	log.Info(ctx, "prometheus metrics server started", "port", port)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = promServer.Shutdown(shutdownCtx)
		_ = meterProvider.Shutdown(shutdownCtx)
		_ = traceProvider.Stop()
	}, nil
}

// runPipeline blocks until ctx is canceled or the snapshot stream ends, then
// releases the reporter and the relay clients.
func runPipeline(ctx context.Context, mono monolith.Monolith, log logger.LoggerInterface) error {
	services := mono.Services()
	pipeline := arbitrageDI.GetPipeline(services)
	reporter := arbitrageDI.GetReporter(services)
	coordinator := submissionDI.GetCoordinator(services)

	cfg := mono.Config()
	healthPort := cfg.App.HealthPort
	if healthPort == 0 {
		healthPort = 8081
	}
	healthServer := health.NewServer(healthPort, version)
	registerChecks(healthServer, mono)
	healthServer.Mount("/risk/", operator.NewHandler(riskDI.GetGovernor(services), log))
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", healthPort)
		defer healthServer.Stop(context.WithoutCancel(ctx))
	}

	log.Info(ctx, "all modules started, processing blocks")
	err := pipeline.Run(ctx)

	log.Info(ctx, "shutting down", "head", pipeline.Head())
	if stopErr := reporter.Stop(); stopErr != nil {
		log.Error(ctx, "error stopping reporter", "error", stopErr)
	}
	if closeErr := coordinator.Close(); closeErr != nil {
		log.Error(ctx, "error closing submission coordinator", "error", closeErr)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func registerChecks(s *health.Server, mono monolith.Monolith) {
	services := mono.Services()

	s.RegisterCheck("ethereum", func(ctx context.Context) (bool, string) {
		st := blockchainDI.GetBlockchainService(services).ConnectionStatus()
		if st.State != blockchainDomain.StateConnected {
			return false, string(st.State)
		}
		if st.UsingHTTP {
			return true, fmt.Sprintf("degraded: polling over http, head %d", st.LastBlock)
		}
		return true, fmt.Sprintf("head %d", st.LastBlock)
	})
	s.RegisterCheck("relays", func(ctx context.Context) (bool, string) {
		var open []string
		relays := submissionDI.GetRelays(services)
		for _, r := range relays {
			if !r.Healthy() {
				open = append(open, r.Name())
			}
		}
		if len(open) == len(relays) && len(relays) > 0 {
			return false, "all relay breakers open"
		}
		if len(open) > 0 {
			return true, "degraded: " + strings.Join(open, ",")
		}
		return true, "ok"
	})
	s.RegisterCheck("risk", func(ctx context.Context) (bool, string) {
		if riskDI.GetGovernor(services).Tripped() {
			return false, "circuit breaker tripped"
		}
		return true, "ok"
	})
	s.RegisterCheck("pipeline", func(ctx context.Context) (bool, string) {
		head := arbitrageDI.GetPipeline(services).Head()
		if head == 0 {
			return false, "no snapshot processed yet"
		}
		return true, fmt.Sprintf("head %d", head)
	}, health.Informational())
}

// reportConnections pushes node and relay status to the dashboard until ctx ends.
func reportConnections(ctx context.Context, services di.ServiceRegistry, every time.Duration) {
	chain := blockchainDI.GetBlockchainService(services)
	relays := submissionDI.GetRelays(services)
	coord := submissionDI.GetCoordinator(services)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st := chain.ConnectionStatus()
		var degraded string
		if st.UsingHTTP {
			degraded = "http"
		}
		var age time.Duration
		if !st.LastHeadAt.IsZero() {
			age = time.Since(st.LastHeadAt)
		}
		ui.Send(ui.ConnectionStatusMsg{
			Name:      "ethereum",
			Connected: st.State == blockchainDomain.StateConnected,
			Latency:   age,
			Degraded:  degraded,
		})
		for _, r := range relays {
			ui.Send(ui.ConnectionStatusMsg{Name: r.Name(), Connected: r.Healthy()})
		}
		ui.Send(ui.RelayStatsMsg{Stats: coord.RelayStats()})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runTUI(ctx context.Context, startFunc func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startSignal := make(chan struct{}, 1)
	ui.OnStartModules = func() {
		select {
		case startSignal <- struct{}{}:
		default:
		}
	}

	p := tea.NewProgram(ui.New(), tea.WithAltScreen())
	ui.Program = p

	errCh := make(chan error, 1)
	go func() {
		select {
		case <-startSignal:
		case <-ctx.Done():
			errCh <- nil
			return
		}

		if err := startFunc(ctx); err != nil {
			ui.Send(ui.ErrorMsg{Error: err})
			errCh <- err
			return
		}
		errCh <- nil
		p.Quit()
	}()

	_, runErr := p.Run()
	// Quitting the dashboard stops the pipeline.
	cancel()
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}

	return <-errCh
}
