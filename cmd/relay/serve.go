package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"badgeup.io/relay/internal/platform/otel"
	"badgeup.io/relay/internal/relay"
	"badgeup.io/relay/internal/transport/ingest"
	"badgeup.io/relay/internal/transport/ws"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	var drain time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept host sessions and deliver their events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger("relay")

			ctx, cancel := signalContext()
			defer cancel()

			shutdownTracing, err := otel.Setup(ctx, cfg.Otel.ServiceName, cfg.Otel.Endpoint)
			if err != nil {
				logger.Printf("otel disabled: %v", err)
			}
			defer func() {
				c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(c)
			}()

			rt, err := relay.New(cfg, logger, nil)
			if err != nil {
				return err
			}

			wsSrv := ws.NewServer(rt, relay.ProgressEntries, logger)

			var servers []*http.Server
			var extra map[string]http.Handler
			if cfg.Listen.WSAddr == cfg.Listen.HTTPAddr {
				extra = map[string]http.Handler{"/v1/ws": wsSrv.Handler()}
			} else {
				mux := http.NewServeMux()
				mux.HandleFunc("/v1/ws", wsSrv.Handler())
				mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
					rw.WriteHeader(http.StatusOK)
					_, _ = rw.Write([]byte("ok"))
				})
				servers = append(servers, &http.Server{Addr: cfg.Listen.WSAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
			}
			router := ingest.NewServer(rt, logger).Router(extra)
			servers = append(servers, &http.Server{Addr: cfg.Listen.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second})

			errCh := make(chan error, len(servers))
			for _, srv := range servers {
				go func(srv *http.Server) {
					logger.Printf("listening on %s", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
				}(srv)
			}

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
				logger.Printf("listener failed: %v", serveErr)
			}

			logger.Printf("shutting down")
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			for _, srv := range servers {
				_ = srv.Shutdown(ctx2)
			}
			cancel2()
			wsSrv.Shutdown()

			ctx3, cancel3 := context.WithTimeout(context.Background(), drain)
			defer cancel3()
			if err := rt.Close(ctx3); err != nil {
				logger.Printf("runtime close: %v", err)
			}
			st := rt.Stats()
			logger.Printf("final: submitted=%d delivered=%d failed=%d dropped_full=%d rejected=%d",
				st.Dispatch.Submitted, st.Dispatch.Delivered, st.Dispatch.Failed, st.Dispatch.DroppedFull, st.Dispatch.Rejected)
			return serveErr
		},
	}
	cmd.Flags().DurationVar(&drain, "drain", 10*time.Second, "how long to wait for queued deliveries on shutdown")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
