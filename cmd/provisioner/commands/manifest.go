package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lumaops/provisioner/pkg/manifest"
)

func newManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect the shared client manifest",
	}

	cmd.AddCommand(newManifestShowCommand())
	cmd.AddCommand(newManifestCheckCommand())

	return cmd
}

func newManifestShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the manifest entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp("")
			if err != nil {
				return err
			}
			defer a.Close()

			updater, err := a.manifestUpdater(ctx)
			if err != nil {
				return err
			}
			m, err := updater.Load(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(m)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "SLUG\tBUSINESS ID\tPROJECT\tADS CUSTOMER")
			for _, e := range m {
				ads := "-"
				if e.GoogleAdsCustomerID != nil {
					ads = *e.GoogleAdsCustomerID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Slug, e.BusinessID, e.ProjectID, ads)
			}
			return nil
		},
	}
}

func newManifestCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the manifest is well-formed",
		Long: `Read the manifest and verify it against the entry schema without
changing it. A manifest that fails the check blocks the manifest step for
every client until it is repaired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp("")
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.manifestStore(ctx)
			if err != nil {
				return err
			}

			blob, err := store.Read(ctx)
			if errors.Is(err, manifest.ErrBlobNotFound) {
				fmt.Printf("%s does not exist yet; it is created with the first client\n", store.Location())
				return nil
			}
			if err != nil {
				return err
			}

			m, err := manifest.Decode(blob.Data)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d entries, generation %s, OK\n", store.Location(), len(m), blob.Generation)
			return nil
		},
	}
}
