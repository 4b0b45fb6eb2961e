package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lumaops/provisioner/pkg/engine"
)

func newResetCommand() *cobra.Command {
	var (
		from string
		yes  bool
	)

	cmd := &cobra.Command{
		Use:   "reset <client-id>",
		Short: "Clear step flags so a client is provisioned again",
		Long: `Clear the completion flags of a client from the given step onward and
return it to pending. This is the only way a recorded step is ever undone;
use it after repairing a failed client by hand, or to re-run part of the
workflow for a completed one.

Nothing is deleted in the cloud. Steps re-run later check for their
resource first.`,
		Example: `  # Re-run everything from the dataset step
  provisioner reset 3fJ9xk2LmQ --from dataset_created --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			clientID := args[0]

			step, err := engine.ParseStep(from)
			if err != nil {
				return engine.NewValidationError(err.Error(), nil)
			}
			if !yes {
				return engine.NewValidationError(
					fmt.Sprintf("refusing to reset %s from %s without --yes", clientID, step), nil)
			}

			a, err := newApp("")
			if err != nil {
				return err
			}
			defer a.Close()

			tracker, err := a.stateTracker(ctx)
			if err != nil {
				return err
			}

			st, err := tracker.Reset(ctx, clientID, step)
			if err != nil {
				return err
			}
			log.Info().Str("client_id", clientID).Str("from", string(step)).Msg("client reset")

			if jsonOutput {
				return printJSON(st)
			}
			printState(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", string(engine.StepProjectCreated), "first step to clear")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	return cmd
}
