package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/gitback/internal/sync"
)

var pullCmd = &cobra.Command{
	Use:   "pull [project/repo]",
	Short: "Restore a repository's mirror from backup",
	Long: `Download a repository from the configured storage backend, replacing the
local mirror and adopting the remote version.

Inside a working copy, the current branch is then pulled from the mirror.
With an explicit project/repo only the local mirror is replaced.

Examples:
  # Update the repository in the current directory
  gitback pull

  # Refresh only the mirror
  gitback pull myproject/api`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	ref, workingDir, err := resolveRef(args)
	if err != nil {
		return err
	}

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

	result, err := a.newSyncer(backend).Pull(ctx, &sync.PullRequest{Ref: ref, WorkingDir: workingDir})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, result)
	}

	printSuccess(out, fmt.Sprintf("Pulled %s from %s", result.Repo, result.Backend))
	printLabelValue(out, "Version", fmt.Sprint(result.Version))
	if result.WorkingUpdated {
		printLabelValue(out, "Working copy", workingDir)
	}
	return nil
}
