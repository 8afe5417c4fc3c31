package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tabeth/memq/config"
	"github.com/tabeth/memq/logging"
	"github.com/tabeth/memq/server"
	"github.com/tabeth/memq/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "memq",
		Short: "In-memory SQS-compatible message queue",
		Long:  "memq serves the SQS JSON protocol from a single process with all state held in memory.",
	}
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
	defaults := config.Default()
	cmd.Flags().String("env-file", ".env", "Optional .env file with MEMQ_* settings")
	cmd.Flags().Int("port", defaults.Port, "Port for the HTTP server to listen on")
	cmd.Flags().String("region", defaults.Region, "Region used in queue ARNs")
	cmd.Flags().String("account-id", defaults.AccountID, "Account id used in queue ARNs")
	cmd.Flags().String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", defaults.LogFormat, "Log format: json|console")
	cmd.Flags().Duration("delete-grace-period", defaults.DeleteGracePeriod, "Reserve deleted queue names for this long (0 disables)")
	cmd.Flags().Int("move-task-rate-cap", defaults.MoveTaskRateCap, "Highest MaxNumberOfMessagesPerSecond a move task may use")
	cmd.Flags().Int("requests-per-minute", defaults.RequestsPerMinute, "Per-IP request limit (0 disables)")
	cmd.Flags().Bool("metrics", defaults.Metrics, "Serve Prometheus metrics on /metrics")
	return cmd
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}
	set("port", func() (e error) { cfg.Port, e = flags.GetInt("port"); return })
	set("region", func() (e error) { cfg.Region, e = flags.GetString("region"); return })
	set("account-id", func() (e error) { cfg.AccountID, e = flags.GetString("account-id"); return })
	set("log-level", func() (e error) { cfg.LogLevel, e = flags.GetString("log-level"); return })
	set("log-format", func() (e error) { cfg.LogFormat, e = flags.GetString("log-format"); return })
	set("delete-grace-period", func() (e error) { cfg.DeleteGracePeriod, e = flags.GetDuration("delete-grace-period"); return })
	set("move-task-rate-cap", func() (e error) { cfg.MoveTaskRateCap, e = flags.GetInt("move-task-rate-cap"); return })
	set("requests-per-minute", func() (e error) { cfg.RequestsPerMinute, e = flags.GetInt("requests-per-minute"); return })
	set("metrics", func() (e error) { cfg.Metrics, e = flags.GetBool("metrics"); return })
	return err
}

// run serves until ctx is cancelled, then drains in-flight requests and
// stops the engine.
func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := store.NewMemoryStore(store.Options{
		Region:            cfg.Region,
		AccountID:         cfg.AccountID,
		Logger:            logger,
		Registerer:        reg,
		DeleteGracePeriod: cfg.DeleteGracePeriod,
		MoveTaskRateCap:   cfg.MoveTaskRateCap,
	})
	defer engine.Close()

	app := &server.App{Store: engine, Logger: logger, AccountID: cfg.AccountID}
	opts := server.RouterOptions{RequestsPerMinute: cfg.RequestsPerMinute}
	if cfg.Metrics {
		opts.Gatherer = reg
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.NewRouter(app, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("region", cfg.Region))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Releases suspended long polls so Shutdown does not wait on them.
	engine.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
