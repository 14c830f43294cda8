package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ET "github.com/IBM/fp-go/v2/either"
	"github.com/IBM/fp-go/v2/function"
	"github.com/spf13/cobra"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/build"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
)

var errInterrupted = errors.New("build interrupted")

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Fetch all archives and assets and write the data files",
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	if services.Builder == nil {
		return config.ErrMissingBaseURL
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res := services.Builder.Run(ctx)()
	return function.Pipe1(
		res,
		ET.Fold(
			func(e error) error { return fmt.Errorf("build: %w", e) },
			func(r build.Report) error {
				fmt.Fprintln(cmd.OutOrStdout(), r.String())
				if r.Cancelled {
					return errInterrupted
				}
				return nil
			},
		),
	)
}
