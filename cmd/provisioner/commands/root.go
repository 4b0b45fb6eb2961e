package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumaops/provisioner/pkg/engine"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error to a process exit code: 2 for rejected input, 3 for
// failures worth retrying, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engine.IsValidation(err):
		return 2
	case engine.IsTransient(err), engine.IsClaimConflict(err), engine.IsManifestConflict(err):
		return 3
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provisioner",
		Short: "Client analytics environment provisioner",
		Long: `provisioner turns a client onboarding record into a ready analytics
environment: a cloud project under the clients folder, linked to billing,
with the required services enabled, an ingestion dataset, and an entry in
the shared client manifest.

Every step is idempotent and its completion is recorded, so a redelivered
or retried trigger resumes where the previous run stopped and a client that
is already provisioned is never touched again.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newManifestCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
