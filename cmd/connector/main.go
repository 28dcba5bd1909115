package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/tradebridge/internal/config"
	"github.com/rickgao/tradebridge/internal/connector"
	"github.com/rickgao/tradebridge/internal/metrics"
	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/monitor"
	"github.com/rickgao/tradebridge/internal/services"
	"github.com/rickgao/tradebridge/internal/status"
	"github.com/rickgao/tradebridge/internal/transport"
	"github.com/rickgao/tradebridge/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/connector.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "connector:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load configuration
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(os.Stdout, cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.With("instance_id", cfg.Instance.ID)

	logger.Info("starting connector",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	workerCfg, err := workerConfig(cfg)
	if err != nil {
		return err
	}

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Domain services
	services.NewFundingManager(logger)
	services.NewRiskManager(logger)
	services.NewEvaluationSystem(logger)
	strategy := services.NewStrategyManager(logger)
	performance := services.NewPerformanceManager(logger)

	statusSvc := status.NewService(status.Options{
		SubscriberBuffer: cfg.Status.SubscriberBuffer,
	}, logger)
	defer statusSvc.Close()

	factory := transport.NewZMQFactory(transport.Options{
		DialTimeout:    cfg.Connector.DialTimeout,
		DialRetry:      cfg.Connector.DialRetry,
		DialMaxRetries: cfg.Connector.DialMaxRetries,
	}, logger)

	worker, err := connector.NewWorker(workerCfg, connector.Deps{
		Factory:     factory,
		Status:      statusSvc,
		Strategy:    strategy,
		Performance: performance,
		Metrics:     m,
	}, logger)
	if err != nil {
		return err
	}

	// Start monitor server early so startup can be observed
	var monitorSrv *monitor.Server
	if cfg.Monitor.IsEnabled() {
		monitorSrv = monitor.NewServer(monitor.Options{Address: cfg.Monitor.Address}, worker, statusSvc, reg, logger)
		if err := monitorSrv.Start(); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		logger.Info("monitor listening",
			"health_url", fmt.Sprintf("http://%s/health", monitorSrv.Addr()),
		)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- worker.Start(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
		// Start only returns early on initialization failure.
		if runErr != nil {
			logger.Error("connector failed", "error", runErr)
		}
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Connector.ShutdownTimeout)
	defer shutdownCancel()

	if err := worker.Stop(shutdownCtx); err != nil {
		logger.Error("stop connector", "error", err)
	}
	if monitorSrv != nil {
		if err := monitorSrv.Stop(shutdownCtx); err != nil {
			logger.Error("stop monitor", "error", err)
		}
	}

	logger.Info("connector stopped",
		"state", worker.State(),
		"market_updates", strategy.Stats().MarketUpdates,
		"status_updates", strategy.Stats().StatusUpdates,
	)
	return runErr
}

// newLogger builds the process logger. It is passed explicitly to every
// component; the slog default is left alone.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// workerConfig maps file configuration onto the connector.
func workerConfig(cfg *config.ConnectorConfig) (connector.Config, error) {
	c := cfg.Connector
	wc := connector.Config{
		Endpoints:           cfg.Endpoints,
		CommandTimeout:      c.CommandTimeout,
		ShutdownTimeout:     c.ShutdownTimeout,
		ReceiveErrorBackoff: c.ReceiveErrorBackoff,
		ReconnectBaseWait:   c.ReconnectBaseWait,
		ReconnectMaxWait:    c.ReconnectMaxWait,
		EventBufferSize:     c.EventBufferSize,
	}

	if c.StartupCommand.Disabled || c.StartupCommand.Name == "" {
		return wc, nil
	}

	cmd, err := model.NewCommand(c.StartupCommand.Name, c.StartupCommand.Parameters)
	if err != nil {
		return connector.Config{}, fmt.Errorf("startup command parameters: %w", err)
	}
	wc.StartupCommand = connector.StartupCommand{
		Enabled: true,
		Delay:   c.StartupCommand.Delay,
		Command: cmd,
	}
	return wc, nil
}
