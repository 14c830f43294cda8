package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/explorer"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/output"
)

var showCmd = &cobra.Command{
	Use:   "show [archiveId...]",
	Short: "Print the built index as a tree of archives and unique asset IDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := services.Explorer.Index()
		if errors.Is(err, explorer.ErrNotFound) {
			return fmt.Errorf("no index under %s, run build first", cfg.Output.Directory)
		}
		if err != nil {
			return fmt.Errorf("read index: %w", err)
		}

		tree, missing := output.NewIndexTree(index).Render(args...)
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(tree, "\n"))
		if len(missing) > 0 {
			logger.Warnw("Archives not in index", "archives", strings.Join(missing, ", "))
		}
		return nil
	},
}
