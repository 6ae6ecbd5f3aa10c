package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/HyeokxC/cudis-ntt-claimer/pkg/attestation"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/config"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/logger"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/metrics"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/monitor"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/redeem"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/retry"
)

var (
	// Set by LDFLAGS
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
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", "", "Path to a .env file to load before reading configuration")
	logDirFlag := flag.String("log-dir", "", "Directory for the daily log file (console only when empty)")
	metricsAddrFlag := flag.String("metrics-addr", "", "Address to listen on for prometheus metrics (disabled when empty)")
	flag.Parse()

	if *envFileFlag != "" {
		if err := godotenv.Load(*envFileFlag); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		// Best effort; a missing .env is fine.
		_ = godotenv.Load()
	}

	log := logger.New(*verboseFlag)
	if *logDirFlag != "" {
		var closer interface{ Close() error }
		var err error
		log, closer, err = logger.NewDaily(*verboseFlag, *logDirFlag, time.Now())
		if err != nil {
			return err
		}
		defer closer.Close()
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal requests a graceful stop at the next cycle boundary;
	// later signals are no-ops.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received, stopping at the next safe boundary", "signal", sig.String())
		cancel()
	}()

	clock := clockwork.NewRealClock()
	rpcClient := solanarpc.New(cfg.RPCEndpoint)

	fetcher, err := attestation.NewFetcher(attestation.FetcherConfig{
		Logger: log,
		Clock:  clock,
	})
	if err != nil {
		return err
	}

	executor, err := redeem.New(redeem.Config{
		Logger:  log,
		Clock:   clock,
		RPC:     rpcClient,
		Signer:  cfg.Wallet,
		Manager: cfg.ManagerProgram,
		Mint:    cfg.Mint,
		Custody: cfg.Custody,
	})
	if err != nil {
		return err
	}

	scheduler, err := retry.New(retry.Config{Logger: log, Clock: clock})
	if err != nil {
		return err
	}

	mon, err := monitor.New(monitor.Config{
		Logger:       log,
		Clock:        clock,
		RPC:          rpcClient,
		Fetcher:      fetcher,
		Redeemer:     executor,
		Retry:        scheduler,
		Custody:      cfg.Custody,
		Mint:         cfg.Mint,
		RequiredRaw:  cfg.RequiredRaw,
		Coordinates:  cfg.Coordinates(),
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return err
	}

	log.Info("claimer starting",
		"version", version,
		"rpc", cfg.RPCEndpoint,
		"custody", cfg.Custody.String(),
		"required", cfg.RequiredAmount,
		"coordinates", cfg.Coordinates().String())

	g, gctx := errgroup.WithContext(ctx)

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", *metricsAddrFlag)
		if err != nil {
			return fmt.Errorf("failed to start prometheus metrics listener: %w", err)
		}
		log.Info("prometheus metrics server listening", "address", listener.Addr().String())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// Stop the metrics server once the claim finishes or shutdown begins.
		defer cancel()
		return mon.Run(gctx)
	})

	return g.Wait()
}
