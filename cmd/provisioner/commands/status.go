package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumaops/provisioner/pkg/engine"
)

func newStatusCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "status [client-id]",
		Short: "Show provisioning state",
		Long: `Show the provisioning state of one client, or list clients, optionally
filtered by status (pending, in_progress, completed, failed).`,
		Example: `  # One client
  provisioner status 3fJ9xk2LmQ

  # Every failed client
  provisioner status --status failed`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp("")
			if err != nil {
				return err
			}
			defer a.Close()

			tracker, err := a.stateTracker(ctx)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				st, err := tracker.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(st)
				}
				printState(st)
				return nil
			}

			filter := engine.Status(status)
			if filter != "" {
				if err := filter.Validate(); err != nil {
					return engine.NewValidationError(err.Error(), nil)
				}
			}
			states, err := tracker.List(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(states)
			}
			printStates(states)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")

	return cmd
}

func printState(st *engine.ProvisioningState) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Client:\t%s\n", st.ClientID)
	fmt.Fprintf(w, "Status:\t%s\n", st.Status)
	fmt.Fprintf(w, "Attempts:\t%d\n", st.Attempts)
	fmt.Fprintf(w, "Updated:\t%s\n", st.UpdatedAt.Format(time.RFC3339))
	for _, step := range engine.Steps {
		mark := "-"
		if flag, ok := st.Steps[step]; ok && flag.Done {
			mark = "done"
			if flag.At != nil {
				mark += " " + flag.At.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "  %s\t%s\n", step, mark)
	}
	if st.LastError != nil {
		fmt.Fprintf(w, "Last error:\t%s at %s: %s\n", st.LastError.Class, st.LastError.Step, st.LastError.Message)
	}
}

func printStates(states []*engine.ProvisioningState) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "CLIENT\tSTATUS\tSTEPS\tATTEMPTS\tUPDATED\tLAST ERROR")
	for _, st := range states {
		done := 0
		for _, step := range engine.Steps {
			if st.Done(step) {
				done++
			}
		}
		lastErr := ""
		if st.LastError != nil {
			lastErr = fmt.Sprintf("%s (%s)", st.LastError.Class, st.LastError.Step)
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			st.ClientID, st.Status, done, len(engine.Steps), st.Attempts, st.UpdatedAt.Format(time.RFC3339), lastErr)
	}
}

// reportStuck seeds the stuck gauge from failed clients already over the
// threshold when the service starts.
func reportStuck(ctx context.Context, a *app, tracker engine.StateTracker) {
	threshold := a.cfg.Provisioning.StuckThreshold
	if threshold <= 0 {
		return
	}
	failed, err := tracker.List(ctx, engine.StatusFailed)
	if err != nil {
		a.log.Warn().Err(err).Msg("cannot list failed clients")
		return
	}
	observer := a.tel.Observer()
	for _, st := range failed {
		if st.Attempts >= threshold {
			observer.StuckClient(st.ClientID, st.Attempts)
		}
	}
}
