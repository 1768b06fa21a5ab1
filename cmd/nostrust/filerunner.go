package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/karipov/nostrust/pkg/blobstore"
)

// newFilerunnerCmd serves a local directory over the blob protocol used by
// BLOB_STORE=http, so the relay can persist outside its own host.
func newFilerunnerCmd() *cobra.Command {
	var (
		addr string
		dir  string
	)
	cmd := &cobra.Command{
		Use:   "filerunner",
		Short: "Serve the db and sealdata blobs from a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := blobstore.NewFileStore(dir)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           blobstore.NewHandler(store),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			slog.Info("filerunner listening", "addr", addr, "dir", dir)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9000", "listen address")
	cmd.Flags().StringVar(&dir, "dir", "filerunner-data", "blob directory")
	return cmd
}
