package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"genie-chat/handler"
)

type ServeFlags struct {
	ListenAddr  string
	MetricsAddr string
}

func NewServeFlags() *ServeFlags {
	return &ServeFlags{
		ListenAddr:  ":8080",
		MetricsAddr: ":2112",
	}
}

func (f *ServeFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ListenAddr, "listen", f.ListenAddr, "The address to serve the chat API on")
	flagSet.StringVar(&f.MetricsAddr, "listen-metrics", f.MetricsAddr, "The address to serve prometheus metrics on; empty disables it")
}

func NewServeCommand(gf *GenieFlags) *cobra.Command {
	f := NewServeFlags()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API over plain HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if gf.StateTable == "" {
				return errors.New("serve requires --table")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, log, err := gf.Build(ctx, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			h, err := handler.NewHandler(svc.Chat, handler.WithLogger(log))
			if err != nil {
				return err
			}

			servers := []*http.Server{{
				Addr:              f.ListenAddr,
				Handler:           h,
				ReadHeaderTimeout: 10 * time.Second,
			}}
			if f.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				servers = append(servers, &http.Server{
					Addr:              f.MetricsAddr,
					Handler:           mux,
					ReadHeaderTimeout: 10 * time.Second,
				})
			}

			errCh := make(chan error, len(servers))
			for _, srv := range servers {
				go func(srv *http.Server) {
					log.Info("listening", "addr", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
					}
				}(srv)
			}

			select {
			case <-ctx.Done():
			case err = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			for _, srv := range servers {
				if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
					log.Warn("shutdown failed", "addr", srv.Addr, "err", shutdownErr)
				}
			}
			return err
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
