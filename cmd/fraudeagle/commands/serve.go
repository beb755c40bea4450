package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rgmining/fraudeagle/internal/api"
	"github.com/rgmining/fraudeagle/internal/config"
)

func newServeCmd() *cobra.Command {
	var port int
	var bind string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs and metrics over HTTP",
		Long: `Serve the read-only results API. With --watch, the configured dataset is
analyzed on startup and on every change, and each run is stored and published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if watch && cfg.Dataset.Path == "" {
				return fmt.Errorf("--watch needs dataset.path in %s", cfgFile)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			// Graceful shutdown on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, closeAll, err := openAnalyzer(ctx, cfg, logger, true, watch)
			if err != nil {
				return err
			}
			defer closeAll()

			srv := &http.Server{
				Addr:              listenAddr(cfg),
				Handler:           api.NewServer(a.store, a.metrics.Handler(), logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			printBanner(cmd, cfg, watch)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("api listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			// The watcher shares the store and publisher, so it must finish
			// before closeAll runs.
			watchCtx, stopWatch := context.WithCancel(ctx)
			var wg sync.WaitGroup
			if watch {
				wg.Go(func() {
					if err := a.watch(watchCtx); err != nil {
						logger.Error("dataset watch stopped", "error", err)
					}
				})
			}
			defer wg.Wait()
			defer stopWatch()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "address to bind (default: 127.0.0.1)")
	cmd.Flags().BoolVar(&watch, "watch", false, "analyze the configured dataset on startup and on change")
	return cmd
}

func listenAddr(cfg *config.Config) string {
	bindAddr := cfg.Server.Bind
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	return net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.Port))
}

func printBanner(cmd *cobra.Command, cfg *config.Config, watch bool) {
	base := "http://" + listenAddr(cfg)
	printf(cmd, "\n  fraudeagle api\n")
	printf(cmd, "  ────────────────────────────────────────\n")
	printf(cmd, "  Runs:     %s/v1/runs\n", base)
	printf(cmd, "  Metrics:  %s/metrics\n", base)
	printf(cmd, "  Health:   %s/health\n", base)
	printf(cmd, "  ────────────────────────────────────────\n")
	printf(cmd, "  Store: %s", cfg.Store.Driver)
	if watch {
		printf(cmd, "  |  Watching: %s", cfg.Dataset.Path)
	}
	printf(cmd, "\n  Press Ctrl+C to stop.\n\n")
}
