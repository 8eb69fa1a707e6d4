package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/gitback/internal/sync"
)

var pushCmd = &cobra.Command{
	Use:   "push [project/repo]",
	Short: "Back up a repository",
	Long: `Back up a repository to the configured storage backend.

Inside a working copy, the current branch is first pushed into the local
mirror (the mirror is created on the first push and becomes the working
copy's origin). The mirror is then packed, encrypted and uploaded.

With an explicit project/repo only the existing local mirror is uploaded and
no working copy is touched.

The push is refused when the backend holds a newer version than the local
mirror; pull first.

Examples:
  # Back up the repository in the current directory
  gitback push

  # Upload an existing mirror to the cloud backend
  gitback push myproject/api --backend cloud`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

func runPush(cmd *cobra.Command, args []string) error {
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

	result, err := a.newSyncer(backend).Push(ctx, &sync.PushRequest{Ref: ref, WorkingDir: workingDir})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, result)
	}

	if result.MirrorCreated {
		printInfo(out, fmt.Sprintf("Created mirror for %s", result.Repo))
	}
	printSuccess(out, fmt.Sprintf("Pushed %s to %s", result.Repo, result.Backend))
	printLabelValue(out, "Version", fmt.Sprint(result.Version))
	printLabelValue(out, "Archive", fmt.Sprintf("%d bytes", result.ArchiveBytes))
	return nil
}
