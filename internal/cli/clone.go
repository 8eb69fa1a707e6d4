package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/gitback/internal/storage"
	"github.com/danieljhkim/gitback/internal/sync"
)

var cloneCmd = &cobra.Command{
	Use:   "clone <project> <repo>",
	Short: "Restore a repository into a new working copy",
	Long: `Download a repository and clone it into ./<project>/<repo>.

The target directory must not exist.`,
	Args: cobra.ExactArgs(2),
	RunE: runClone,
}

func runClone(cmd *cobra.Command, args []string) error {
	ref := storage.RepoRef{Project: args[0], Repo: args[1]}
	if err := ref.Validate(); err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
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

	result, err := a.newSyncer(backend).Clone(ctx, &sync.CloneRequest{Ref: ref, TargetDir: cwd})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, result)
	}

	printSuccess(out, fmt.Sprintf("Cloned %s from %s", result.Repo, result.Backend))
	printLabelValue(out, "Directory", result.TargetDir)
	printLabelValue(out, "Version", fmt.Sprint(result.Version))
	return nil
}
