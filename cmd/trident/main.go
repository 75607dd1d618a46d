// Command trident runs the reverse-proxying load balancer described in
// the project's design documents. Most of the interesting behavior
// lives in the root package; this file is CLI glue in the same spirit
// as the teacher's cmd/caddy/main.go — a thin wrapper that wires flags
// to a runnable server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	trident "github.com/kanalabs/trident"
	"github.com/kanalabs/trident/internal/config"
	"github.com/kanalabs/trident/internal/metrics"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var args config.CLIArgs

	cmd := &cobra.Command{
		Use:           "trident",
		Short:         "trident load balancer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&args.RPCList, "rpc_list", "r", "", "CSV list of rpcs")
	flags.StringVarP(&args.ConfigPath, "config", "c", "config.toml", "TOML config file for trident")
	flags.IntVarP(&args.Port, "port", "p", 3000, "Port to listen to")
	flags.StringVarP(&args.Address, "address", "a", "127.0.0.1", "Address to bind to")
	flags.IntVar(&args.MaLength, "ma_length", 15, "Latency moving average length")
	flags.BoolVar(&args.HealthCheck, "health_check", false, "Enable health checking")
	flags.IntVar(&args.TTL, "ttl", 300, "Time in milliseconds for the RPC to respond before the attempt is abandoned and retried")
	flags.Uint32Var(&args.MaxRetries, "max_retries", 32, "Maximum amount of retries before we drop the current request")
	flags.Uint64Var(&args.HealthCheckTTL, "health_check_ttl", 2000, "How often to perform the health check, in milliseconds")
	flags.Uint64Var(&args.MaxPerSecond, "max_per_second", 0, "Maximum requests per second per upstream when using --rpc_list (0 disables rate limiting)")
	cmd.MarkFlagsMutuallyExclusive("rpc_list", "config")

	return cmd
}

func run(ctx context.Context, args config.CLIArgs) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	settings, err := config.Load(args)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return err
	}

	upstreams := buildUpstreams(settings)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var active, poverty []*trident.Upstream
	if settings.SortOnStartup {
		active, poverty = trident.StartupSort(ctx, upstreams, settings.MaLength)
	} else {
		active = upstreams
	}

	pool := trident.NewPool(active, poverty)

	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)
	trident.RefreshPoolGauges(pool, collectors)

	if settings.HealthCheck {
		monitor := &trident.HealthMonitor{
			Pool:     pool,
			Interval: settings.HealthCheckTTL,
			Timeout:  5 * time.Second,
			Log:      logger,
			OnSweep: func(ok bool) {
				collectors.ObserveSweep(ok)
				trident.RefreshPoolGauges(pool, collectors)
			},
		}
		go monitor.Run(ctx)
	}

	handler := trident.ProxyHandler(pool, settings.TTL, settings.MaxRetries, logger, collectors)
	router := trident.NewRouter(handler, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", settings.Address)
	if err != nil {
		logger.Error("failed to bind listener", zap.String("address", settings.Address), zap.Error(err))
		return err
	}
	logger.Info("bound to address", zap.String("address", settings.Address))

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", zap.Error(err))
			return err
		}
		return nil
	}
}

// buildUpstreams converts the configuration's upstream entries into
// runtime descriptors, computing each one's rate-delta from
// max_per_second per spec.md §6.
func buildUpstreams(settings *config.Settings) []*trident.Upstream {
	upstreams := make([]*trident.Upstream, 0, len(settings.Upstreams))
	for _, u := range settings.Upstreams {
		upstreams = append(upstreams, trident.NewUpstream(
			u.URL,
			u.WSURL,
			u.MaxConsecutive,
			u.MinTimeDeltaMicros(),
			settings.MaLength,
		))
	}
	return upstreams
}
