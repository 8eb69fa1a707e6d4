package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backed-up repositories",
	Long:  `Display the repositories stored on the configured backend, grouped by project.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		backend, err := a.configuredBackend()
		if err != nil {
			return err
		}

		ctx, cancel := a.newContext()
		defer cancel()

		result, err := a.newSyncer(backend).List(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, result)
		}

		printSection(out, fmt.Sprintf("Repositories on %s", result.Backend))
		if len(result.Projects) == 0 {
			printEmptyState(out, "No repositories found")
			return nil
		}
		printCatalog(out, result.Projects)
		return nil
	},
}
