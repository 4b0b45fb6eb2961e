package commands

import (
	"github.com/spf13/cobra"

	"github.com/lumaops/provisioner/pkg/engine"
	"github.com/lumaops/provisioner/pkg/trigger"
)

func newServeCommand(version string) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the push endpoint for onboarding events",
		Long: `Start the HTTP endpoint that receives client creation events and
provisions each client.

Routes:
  POST /v1/events/firestore             Firestore document event
  POST /v1/clients/{clientID}/provision re-trigger one client
  GET  /v1/clients/{clientID}/state     provisioning state
  GET  /healthz, /readyz, /metrics

Any non-2xx answer makes the delivery mechanism redeliver the event.`,
		Example: `  # Serve with a config file
  provisioner serve --config /etc/provisioner/config.yaml

  # Override the listen address
  provisioner serve --listen :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(version)
			if err != nil {
				return err
			}
			defer a.Close()

			if listenAddr != "" {
				a.cfg.Server.ListenAddress = listenAddr
			}

			tracker, err := a.stateTracker(ctx)
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx, tracker)
			if err != nil {
				return err
			}
			admitter, err := a.policyEngine(ctx, true)
			if err != nil {
				return err
			}
			fs, err := a.firestoreClient(ctx)
			if err != nil {
				return err
			}

			listener := trigger.NewListener(
				trigger.NewFirestoreRecords(fs, a.cfg.Firestore.ClientsCollection),
				orch,
				a.log,
				trigger.WithAdmitter(admitter),
			)

			server := trigger.NewServer(trigger.ServerConfig{
				ListenAddr:               a.cfg.Server.ListenAddress,
				ReadTimeout:              a.cfg.Server.ReadTimeout,
				WriteTimeout:             a.cfg.Server.WriteTimeout,
				GracefulShutdownDuration: a.cfg.Server.ShutdownTimeout,
			}, listener, tracker, a.tel.Metrics.Handler(), a.log)

			reportStuck(ctx, a, tracker)

			a.log.Info().
				Str("parent", a.cfg.Provisioning.Parent).
				Str("manifest", a.cfg.Manifest.Location).
				Str("state_backend", a.cfg.State.Backend).
				Msg("provisioner ready")

			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides server.listen_address)")

	return cmd
}

var _ trigger.Provisioner = (*engine.Orchestrator)(nil)
