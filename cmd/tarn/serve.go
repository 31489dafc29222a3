package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tarnlabs/tarn/internal/api"
	"github.com/tarnlabs/tarn/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve JSON-RPC requests on stdin/stdout",
	Long: `Serve newline-delimited JSON-RPC requests on stdin, writing one response
line per request to stdout. Intended to be spawned and owned by a host
process. All logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// Optional HTTP admin endpoint, bound next to the stdio stream.
	var admin *http.Server
	if a.cfg.Admin.Addr != "" {
		admin = &http.Server{
			Addr:    a.cfg.Admin.Addr,
			Handler: api.NewAdminHandler(a.bridge, a.cfg.Admin.Token),
		}
		go func() {
			a.log.Info("admin endpoint listening", "addr", admin.Addr)
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Error("admin endpoint failed", "error", err)
			}
		}()
	}

	srv := rpc.NewServer(a.bridge, a.log)
	a.log.Info("serving requests on stdio", "data_dir", a.cfg.Storage.DataDir)
	err = srv.Run(ctx, os.Stdin, os.Stdout)

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := admin.Shutdown(shutdownCtx); serr != nil {
			a.log.Warn("admin shutdown", "error", serr)
		}
	}
	return err
}
