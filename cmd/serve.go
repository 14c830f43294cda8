package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the built data as a read-only JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		srv, err := server.NewServer(cfg, services.Explorer, logger, meter)
		if err != nil {
			return fmt.Errorf("init server: %w", err)
		}
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}
