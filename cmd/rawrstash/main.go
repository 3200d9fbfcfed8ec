// Command rawrstash serves a tiered cache over gRPC. Memory is the fast tier;
// the slow tier is a disk directory or a Redis server, selected by
// configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	gs "github.com/Keksclan/goRawrStash"
	"github.com/Keksclan/goRawrStash/cache"
	"github.com/Keksclan/goRawrStash/internal/config"
	"github.com/Keksclan/goRawrStash/internal/logging"
	"github.com/Keksclan/goRawrStash/tracing"
)

// cliOptions holds the parsed command line.
type cliOptions struct {
	configPath string
	checkOnly  bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

// run executes the daemon until ctx ends and returns the exit code.
func run(ctx context.Context, opts cliOptions) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return 1
	}
	defer logging.Closer(logger).Close()

	if opts.checkOnly {
		logger.WithFields(logrus.Fields{
			"action":  "check_config",
			"config":  opts.configPath,
			"backend": cfg.Cache.Backend,
			"result":  "ok",
		}).Info("configuration valid")
		fmt.Fprintln(stdOut, "configuration ok")
		return 0
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("server stopped with error")
		return 1
	}
	return 0
}

// serve wires the stores, the gRPC server and the metrics endpoint and runs
// them until ctx ends or one of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	tp, shutdownTracing, err := setupTracing(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.DurationValue())
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := cache.NewMetrics(reg)

	traceCfg := tracing.Config{TracerProvider: tp, Namespace: cfg.Cache.Namespace}
	store, closeStore, err := openStore(ctx, cfg, logger, metrics, traceCfg.Tracer())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("closing store failed")
		}
	}()

	opts := append(gs.DefaultOptions(),
		gs.WithLogger(logger),
		gs.WithMetricsGatherer(reg),
		gs.WithOpenTelemetry(traceCfg),
	)
	if cfg.Server.RateLimit > 0 {
		opts = append(opts, gs.WithRateLimitGlobal(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	srv := gs.NewServer(opts...)
	srv.RegisterCache(store)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", srv.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"action":       "startup",
		"grpc_addr":    lis.Addr().String(),
		"metrics_addr": cfg.Server.MetricsAddr,
		"backend":      cfg.Cache.Backend,
		"namespace":    cfg.Cache.Namespace,
		"middleware":   srv.Middleware(),
	}).Info("rawrstash started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, lis)
	})
	g.Go(func() error {
		if cfg.Server.MetricsAddr == "" {
			return nil
		}
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.DurationValue())
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.WithField("action", "shutdown").Info("rawrstash stopped")
	return err
}

// parseCLIFlags parses the command line. RAWRSTASH_CONFIG is used when
// -config is absent.
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("rawrstash", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts cliOptions
	fs.StringVar(&opts.configPath, "config", "", "config file path (TOML, YAML or JSON); defaults to $RAWRSTASH_CONFIG")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "validate the configuration and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.configPath == "" {
		opts.configPath = os.Getenv("RAWRSTASH_CONFIG")
	}
	return opts, nil
}
