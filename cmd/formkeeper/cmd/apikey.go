package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/formkeeper/internal/core/auth"
	"github.com/solatis/formkeeper/internal/core/config"
	"github.com/solatis/formkeeper/internal/core/db"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API key for a tenant",
	Long: `Issue a new API key signed with an HMAC secret from the environment.
The key is printed once and only its hash is stored.`,
	RunE: runAPIKeyCreate,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <api-key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		queries, err := db.LoadQueries(database)
		if err != nil {
			return err
		}
		if err := db.NewAPIKeyStore(queries).Revoke(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to revoke %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyRevokeCmd)
	apikeyCreateCmd.Flags().String("tenant", "", "tenant ID the key authenticates as")
	apikeyCreateCmd.Flags().String("name", "", "human readable key name")
	apikeyCreateCmd.Flags().String("secret-id", "", "HMAC secret to sign with (default: the only configured secret)")
	_ = apikeyCreateCmd.MarkFlagRequired("tenant")
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	name, _ := cmd.Flags().GetString("name")
	secretID, _ := cmd.Flags().GetString("secret-id")

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if secretID == "" {
		if len(secrets) != 1 {
			return fmt.Errorf("%d HMAC secrets configured: pass --secret-id", len(secrets))
		}
		for id := range secrets {
			secretID = id
		}
	}
	secret, ok := secrets[secretID]
	if !ok {
		return fmt.Errorf("HMAC secret %s not configured", secretID)
	}

	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	queries, err := db.LoadQueries(database)
	if err != nil {
		return err
	}

	key, hash, err := auth.GenerateAPIKey(secretID, secret)
	if err != nil {
		return err
	}
	rec, err := db.NewAPIKeyStore(queries).Insert(context.Background(), tenant, name, secretID, hash)
	if err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "api_key_id: %s\n", rec.ID)
	fmt.Fprintf(out, "tenant_id:  %s\n", rec.TenantID)
	fmt.Fprintf(out, "api_key:    %s\n", key)
	fmt.Fprintln(out, "Store the key now: it cannot be shown again.")
	return nil
}
