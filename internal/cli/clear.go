package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// clearCmd deletes the local mirror of one repository.
var clearCmd = &cobra.Command{
	Use:   "clear [project/repo]",
	Short: "Delete the local mirror of a repository",
	Long: `Delete the local mirror, temporary archive and version file of a repository.

The backup on the storage backend and the working copy are not touched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, _, err := resolveRef(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.newSyncer(nil).Clear(ref)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, result)
		}

		if len(result.Removed) == 0 {
			printWarning(out, fmt.Sprintf("No local copy of %s", ref))
			return nil
		}
		printSuccess(out, fmt.Sprintf("Cleared %s (%s)", ref, pluralize(len(result.Removed), "path", "paths")))
		return nil
	},
}

// clearAllCmd deletes every local mirror.
var clearAllCmd = &cobra.Command{
	Use:   "clear-all",
	Short: "Delete all local mirrors",
	Long:  `Delete the local mirrors of all repositories. Backups on the storage backend are not touched.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.newSyncer(nil).ClearAll()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, result)
		}

		printSuccess(out, fmt.Sprintf("Cleared %s", pluralize(len(result.Removed), "project", "projects")))
		return nil
	},
}
