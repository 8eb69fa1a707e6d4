package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/gitback/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <from> <to> [project/repo]",
	Short: "Copy a repository between backends",
	Long: `Pull a repository from one backend into the local mirror and push it to
another. Backends are "disk" and "cloud". Working copies are not touched.

Examples:
  gitback migrate disk cloud myproject/api`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	fromKind, err := storage.ParseKind(args[0])
	if err != nil {
		return err
	}
	toKind, err := storage.ParseKind(args[1])
	if err != nil {
		return err
	}
	if fromKind == toKind {
		return fmt.Errorf("source and destination are both %s", fromKind)
	}

	ref, _, err := resolveRef(args[2:])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	from, err := backendFactory(a, fromKind)
	if err != nil {
		return err
	}
	to, err := backendFactory(a, toKind)
	if err != nil {
		return err
	}

	ctx, cancel := a.newContext()
	defer cancel()

	result, err := a.newSyncer(from).Migrate(ctx, from, to, ref)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, result)
	}

	printSuccess(out, fmt.Sprintf("Migrated %s from %s to %s", result.Repo, result.From, result.To))
	printLabelValue(out, "Version", fmt.Sprint(result.Version))
	return nil
}
