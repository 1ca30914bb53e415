package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sqlstream/internal/metrics"
	"github.com/roach88/sqlstream/internal/store"
)

// errLimitReached stops a watch after --limit messages.
var errLimitReached = errors.New("limit reached")

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	After string
	Limit int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print every message, then follow new ones as they commit",
		Long: `Print every message after --from in position order, then wait for new
messages and print them as they commit. Runs until interrupted.

The configured notifier decides how quickly commits by other processes are
seen. When metrics_addr is configured, Prometheus metrics are served on
/metrics while watching.

Examples:
  sqlstream watch --db ./streams.db
  sqlstream watch --db ./streams.db --from 41 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.After, "from", "", "only print messages after this position (default: from the start)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many messages (0 = no limit)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	after := store.PositionEnd
	if opts.After != "" {
		n, _, err := parseFrom(opts.After, false)
		if err != nil {
			return opts.formatter(cmd).Reject("invalid --from", err)
		}
		after = store.PositionAt(n)
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if addr := sess.cfg.MetricsAddr; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr) })
	}

	w := cmd.OutOrStdout()
	enc := json.NewEncoder(w)
	seen := 0
	g.Go(func() error {
		err := sess.store.CatchUp(gctx, after, func(_ context.Context, m store.Message) error {
			view := newMessageView(m)
			if opts.Format == "json" {
				if err := enc.Encode(view); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(w, view)
			}
			seen++
			if opts.Limit > 0 && seen >= opts.Limit {
				return errLimitReached
			}
			return nil
		})
		// Returning an error also stops the metrics server.
		if errors.Is(err, errLimitReached) {
			cancel()
			return nil
		}
		return err
	})

	slog.Info("watching", "after", after.String(), "schema", sess.store.Schema())
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return sess.out.Fail("watch failed", err)
	}
	slog.Info("watch stopped", "messages", seen)
	return nil
}

// serveMetrics serves the store collectors on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string) error {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}
