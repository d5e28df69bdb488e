package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"millstep/standalone"
)

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Trace a G-code program on a simulated machine",
		Long: `Run a G-code program on a simulated machine and print the tool path.

Each point is the position after a move, starting at the origin. Rapid
positioning moves are marked. With --json the path is printed as a list of
[x, y, z, rapid] tuples.

Example:
  millstep simulate --json part.nc > path.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read program: %w", err)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			moves, err := standalone.Simulate(cmd.Context(), string(text), cfg.DefaultFeedRate, cfg.RapidMoveFeedRate)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(moves)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderMoves(moves))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the path as JSON")
	return cmd
}
