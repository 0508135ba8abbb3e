package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hainguyenvie/vmeeting/internal/config"
	"github.com/hainguyenvie/vmeeting/internal/devserver"
)

func newServeCmd(cfg config.Config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local development backend",
		Long:  "serve runs a self-contained backend: meeting CRUD, audio ingest with simulated two-pass transcription, transcript broadcast and canned summaries. Useful for developing the client without the real transcription service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := devserver.OpenStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("serve: listening on %s (db %s)", addr, cfg.DatabasePath)
			if err := devserver.New(store).Start(ctx, addr); err != nil && err != http.ErrServerClosed {
				return err
			}
			log.Println("serve: shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", cfg.HTTPAddress, "listen address")
	return cmd
}
