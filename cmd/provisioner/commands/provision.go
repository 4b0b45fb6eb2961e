package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumaops/provisioner/pkg/engine"
	"github.com/lumaops/provisioner/pkg/trigger"
)

func newProvisionCommand() *cobra.Command {
	var recordFile string

	cmd := &cobra.Command{
		Use:   "provision <client-id>",
		Short: "Provision one client",
		Long: `Run the provisioning workflow for one client, exactly as a delivered
event would. Steps already recorded as done are skipped, so running this
for a completed client makes no external calls.

The record is read from the clients collection, or from a JSON file with
--record.`,
		Example: `  # Provision from the clients collection
  provisioner provision 3fJ9xk2LmQ

  # Provision from a local record
  provisioner provision acme --record ./acme.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			clientID := args[0]

			a, err := newApp("")
			if err != nil {
				return err
			}
			defer a.Close()

			var source engine.RecordSource
			if recordFile != "" {
				rec, err := readRecord(recordFile)
				if err != nil {
					return err
				}
				source = trigger.MemoryRecords{clientID: rec}
			} else {
				fs, err := a.firestoreClient(ctx)
				if err != nil {
					return err
				}
				source = trigger.NewFirestoreRecords(fs, a.cfg.Firestore.ClientsCollection)
			}

			tracker, err := a.stateTracker(ctx)
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx, tracker)
			if err != nil {
				return err
			}
			admitter, err := a.policyEngine(ctx, false)
			if err != nil {
				return err
			}

			listener := trigger.NewListener(source, orch, a.log, trigger.WithAdmitter(admitter))
			res, err := listener.ProvisionByID(ctx, clientID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(res)
			}
			switch {
			case res.Duplicate:
				fmt.Printf("client %s is already provisioned, nothing to do\n", clientID)
			default:
				fmt.Printf("client %s: %s (steps run: %v)\n", clientID, res.Status, res.Executed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&recordFile, "record", "", "read the client record from a JSON file")

	return cmd
}

func readRecord(path string) (*engine.ClientRecord, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	var rec engine.ClientRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, engine.NewValidationError("record file is not a valid client record", err).WithResource(path)
	}
	return &rec, nil
}
