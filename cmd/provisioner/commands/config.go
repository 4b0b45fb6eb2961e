package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lumaops/provisioner/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the service configuration",
	}
	cmd.AddCommand(newConfigValidateCommand())
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration from defaults, the --config file and the
environment, then validate it. With --show the effective configuration is
printed with secrets masked.`,
		Example: `  provisioner config validate --config ./provisioner.yaml --show`,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if show {
				masked := *cfg
				if masked.S3.SecretKey != "" {
					masked.S3.SecretKey = "********"
				}
				if jsonOutput {
					return printJSON(masked)
				}
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(masked)
			}

			fmt.Println("configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the effective configuration")

	return cmd
}
