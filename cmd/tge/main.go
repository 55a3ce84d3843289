package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sparkchain/tge/config"
	"github.com/sparkchain/tge/pkg/logger"
	"github.com/sparkchain/tge/pkg/metrics"
	"github.com/sparkchain/tge/pkg/server"
	"github.com/sparkchain/tge/pkg/tge"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", ":8080", "HTTP listen address (or set TGE_LISTEN_ADDR env var)")
	corsOriginsFlag := flag.StringSlice("cors-origin", nil, "allowed CORS origin, repeatable (or set TGE_CORS_ORIGINS env var, comma-separated)")
	envFileFlag := flag.String("env-file", "", "optional .env file to load before reading environment")
	metricsIntervalFlag := flag.Duration("metrics-interval", 30*time.Second, "interval for refreshing state gauges")
	flag.Parse()

	if *envFileFlag != "" {
		if err := godotenv.Load(*envFileFlag); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
		}
	} else {
		// Best effort: a local .env is optional.
		_ = godotenv.Load()
	}

	if v := os.Getenv("TGE_LISTEN_ADDR"); v != "" {
		*listenAddrFlag = v
	}
	if v := os.Getenv("TGE_CORS_ORIGINS"); v != "" {
		*corsOriginsFlag = strings.Split(v, ",")
	}

	log := logger.New(*verboseFlag)
	log.Info("tge: starting", "version", version, "commit", commit, "date", date)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgCfg, err := config.PgConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load postgres config: %w", err)
	}
	pool, err := config.LoadPostgres(ctx, log, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	engine, err := tge.New(tge.Config{Logger: log, Pool: pool})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:         log,
		Engine:         engine,
		Pool:           pool,
		ListenAddr:     *listenAddrFlag,
		AllowedOrigins: *corsOriginsFlag,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(*metricsIntervalFlag)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := engine.RefreshMetrics(gctx); err != nil {
					log.Warn("tge: failed to refresh metrics", "error", err)
				}
			}
		}
	})
	return g.Wait()
}
