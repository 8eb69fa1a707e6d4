package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/gitback/internal/credentials"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage backend credentials",
	Long: `Store the credentials the backends need.

The archive encryption key is generated on first push and kept in the same
directory. Losing it makes existing backups unreadable.`,
}

var (
	appID     string
	appSecret string

	cloudBucket      string
	cloudAccessKeyID string
	cloudSecretKey   string
)

var credentialsAppCmd = &cobra.Command{
	Use:   "app",
	Short: "Set the OAuth app id and secret of the disk backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if appID == "" || appSecret == "" {
			return errors.New("--id and --secret are required")
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.creds.SaveAppCredentials(&credentials.App{ID: appID, Secret: appSecret}); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Saved app credentials")
		return nil
	},
}

var credentialsCloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Set the bucket and service-account key of the cloud backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cloudBucket == "" || cloudAccessKeyID == "" || cloudSecretKey == "" {
			return errors.New("--bucket, --key-id and --secret-key are required")
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		acc := &credentials.CloudAccount{
			Bucket:      cloudBucket,
			AccessKeyID: cloudAccessKeyID,
			AccessKey:   cloudSecretKey,
		}
		if err := a.creds.SaveCloudAccount(acc); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Saved cloud account")
		return nil
	},
}

var credentialsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show which credentials are configured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		_, appErr := a.creds.AppCredentials()
		_, cloudErr := a.creds.CloudAccount()
		_, tokenErr := a.creds.LoadToken()
		status := map[string]string{
			"app":   credentialStatus(appErr),
			"cloud": credentialStatus(cloudErr),
			"token": credentialStatus(tokenErr),
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, status)
		}
		printLabelValue(out, "App", status["app"])
		printLabelValue(out, "Cloud account", status["cloud"])
		printLabelValue(out, "Token", status["token"])
		printLabelValue(out, "Directory", a.creds.Dir())
		return nil
	},
}

func credentialStatus(err error) string {
	switch {
	case err == nil:
		return "configured"
	case errors.Is(err, credentials.ErrCredentialMissing):
		return "missing"
	case errors.Is(err, credentials.ErrCredentialMalformed):
		return "malformed"
	default:
		return "error: " + err.Error()
	}
}

func init() {
	credentialsAppCmd.Flags().StringVar(&appID, "id", "", "OAuth app id")
	credentialsAppCmd.Flags().StringVar(&appSecret, "secret", "", "OAuth app secret")

	credentialsCloudCmd.Flags().StringVar(&cloudBucket, "bucket", "", "Bucket name")
	credentialsCloudCmd.Flags().StringVar(&cloudAccessKeyID, "key-id", "", "Service-account access key id")
	credentialsCloudCmd.Flags().StringVar(&cloudSecretKey, "secret-key", "", "Service-account secret key")

	credentialsCmd.AddCommand(credentialsAppCmd)
	credentialsCmd.AddCommand(credentialsCloudCmd)
	credentialsCmd.AddCommand(credentialsShowCmd)
}
