package cli

import (
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Open the disk backend sign-in page",
	Long: `Open the authorization page of the disk backend in the browser and print
its URL. After granting access the browser is redirected to a gitback://token
URI; pass it to "gitback token" to finish signing in.

Requires app credentials, see "gitback credentials app".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		url, err := a.oauthManager().Authorize()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, map[string]string{"url": url})
		}
		printInfo(out, "Sign in at:")
		printInfo(out, "  "+url)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <redirect-uri>",
	Short: "Finish signing in with the authorization redirect",
	Long: `Exchange the authorization code in a gitback://token redirect URI for an
access token and store it.

Examples:
  gitback token 'gitback://token?code=1234567'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := a.newContext()
		defer cancel()

		tok, err := a.oauthManager().CompleteAuthorization(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, map[string]any{
				"expires_at": tok.ExpiresAt(),
			})
		}
		printSuccess(out, "Signed in")
		printLabelValue(out, "Expires", tok.ExpiresAt().Local().Format("2006-01-02 15:04"))
		return nil
	},
}
