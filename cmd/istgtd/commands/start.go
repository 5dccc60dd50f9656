package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/server"
	"github.com/istgtd/istgtd/internal/iscsi/target"
	"github.com/istgtd/istgtd/internal/logger"
	"github.com/istgtd/istgtd/pkg/blockstore"
	"github.com/istgtd/istgtd/pkg/config"
	istgtdprometheus "github.com/istgtd/istgtd/pkg/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the istgtd iSCSI target server",
	RunE:  runStart,
}

// runStart loads configuration, builds the target registry from it, and
// runs the protocol engine's Server until SIGINT/SIGTERM, per spec.md §6
// ("exit code 0 on clean shutdown, non-zero on config or bind failure").
// Grounded on dittofs's cmd/dittofs/main.go runStart: load config, init
// logger, build a cancellable context, start serving in a goroutine,
// wait on a signal channel, cancel on receipt.
func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("istgtd: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("istgtd: logger: %w", err)
	}

	targets, err := buildTargetRegistry(cfg)
	if err != nil {
		return fmt.Errorf("istgtd: %w", err)
	}

	reg := prometheus.NewRegistry()
	recorder := istgtdprometheus.New(reg)

	srv := server.New(server.Config{
		Port:            cfg.Port,
		Prefs:           buildTargetPreferences(cfg),
		IdleTimeout:     time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		ShutdownTimeout: time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second,
		Metrics:         recorder,
	}, targets)

	logger.Info("istgtd starting", "port", cfg.Port, "targets", len(cfg.TargetList))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsPort > 0 {
		metricsSrv := newMetricsServer(cfg.MetricsPort, reg)
		go serveMetrics(metricsSrv)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info("shutdown signal received")
		cancel()
		err := <-serveDone
		_ = targets.Close()
		return err
	case err := <-serveDone:
		_ = targets.Close()
		return err
	}
}

// newMetricsServer builds the HTTP server exposing reg's metrics at
// /metrics, grounded on the standard promhttp.HandlerFor wiring every
// Prometheus-instrumented Go service in the pack uses.
func newMetricsServer(port int, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}

func serveMetrics(srv *http.Server) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// buildTargetRegistry opens every configured target's backing storage
// file and registers it, grounded on dittofs's config.InitializeRegistry
// (open every configured backend up front, fail fast if any can't open).
func buildTargetRegistry(cfg *config.Config) (*target.Registry, error) {
	reg := target.NewRegistry(nil)
	for _, tc := range cfg.TargetList {
		capacityBlocks := uint64(tc.StorageFile.SizeMB) * 1024 * 1024 / uint64(tc.StorageFile.BlockSize)
		store, err := blockstore.OpenFileStore(tc.StorageFile.Path, capacityBlocks, tc.StorageFile.BlockSize, tc.StorageFile.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", tc.Name, err)
		}
		if err := reg.Add(&target.Target{Name: tc.Name, Alias: tc.Alias, Store: store}); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("target %s: %w", tc.Name, err)
		}
		logger.Info("target registered", "name", tc.Name, "alias", tc.Alias, "blocks", capacityBlocks, "block_size", tc.StorageFile.BlockSize)
	}
	return reg, nil
}

// buildTargetPreferences derives the target-wide negotiation defaults
// every Login negotiates against from the config file's <Defaults>
// block, falling back to negotiate.DefaultTargetPreferences() for
// anything the config left zero-valued.
func buildTargetPreferences(cfg *config.Config) negotiate.TargetPreferences {
	prefs := negotiate.DefaultTargetPreferences()
	prefs.AllowSloppyNegotiation = cfg.AllowSloppyNegotiation

	if cfg.Defaults.MaxRecvDataSegmentLength > 0 {
		prefs.MaxRecvDataSegmentLength = cfg.Defaults.MaxRecvDataSegmentLength.Uint32()
	}
	if cfg.Defaults.MaxBurstLength > 0 {
		prefs.MaxBurstLength = cfg.Defaults.MaxBurstLength.Uint32()
	}
	if cfg.Defaults.FirstBurstLength > 0 {
		prefs.FirstBurstLength = cfg.Defaults.FirstBurstLength.Uint32()
	}
	if cfg.Defaults.InitialR2T != "" {
		prefs.InitialR2T = cfg.Defaults.InitialR2T == "Yes"
	}
	if cfg.Defaults.ImmediateData != "" {
		prefs.ImmediateData = cfg.Defaults.ImmediateData == "Yes"
	}
	if cfg.Defaults.HeaderDigest != "" {
		prefs.SupportedHeaderDigests = digestPreferenceOrder(cfg.Defaults.HeaderDigest)
	}
	if cfg.Defaults.DataDigest != "" {
		prefs.SupportedDataDigests = digestPreferenceOrder(cfg.Defaults.DataDigest)
	}
	return prefs
}

// digestPreferenceOrder puts the configured digest mode first so the
// literal-list negotiation in internal/iscsi/negotiate, which walks the
// target's list in order, picks it over the alternative when the
// initiator offers both.
func digestPreferenceOrder(preferred string) []string {
	if preferred == "CRC32C" {
		return []string{"CRC32C", "None"}
	}
	return []string{"None", "CRC32C"}
}
