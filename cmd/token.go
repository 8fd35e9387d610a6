package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentbus/internal/config"
	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// tokenCmd manages bearer tokens. Issuance and revocation are operator
// actions; clients only ever present tokens.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token administration",
	}
	cmd.AddCommand(tokenIssueCmd())
	cmd.AddCommand(tokenListCmd())
	cmd.AddCommand(tokenRevokeCmd())
	return cmd
}

func openTokenStore() (store.TokenStore, *sqlite.DB, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	stores, db, err := sqlite.NewStores(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return stores.Tokens, db, nil
}

func tokenIssueCmd() *cobra.Command {
	var expiryHours int
	cmd := &cobra.Command{
		Use:   "issue <client_id>",
		Short: "Issue a bearer token bound to a client identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID := args[0]
			if err := protocol.ValidateIdent("client_id", clientID); err != nil {
				return err
			}

			tokens, db, err := openTokenStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if expiryHours <= 0 {
				cfg, err := config.Load(resolveConfigPath())
				if err != nil {
					return err
				}
				expiryHours = cfg.DefaultTokenExpiryHours
			}

			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			now := time.Now().UTC()
			t := &store.TokenData{
				Token:     hex.EncodeToString(raw),
				ClientID:  clientID,
				CreatedAt: now,
				ExpiresAt: now.Add(time.Duration(expiryHours) * time.Hour),
			}
			if err := tokens.SaveToken(context.Background(), t); err != nil {
				return fmt.Errorf("save token: %w", err)
			}

			fmt.Printf("token: %s\nclient_id: %s\nexpires_at: %s\n",
				t.Token, t.ClientID, t.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().IntVar(&expiryHours, "expiry-hours", 0, "token lifetime in hours (default: DEFAULT_TOKEN_EXPIRY_HOURS)")
	return cmd
}

func tokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List issued tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, db, err := openTokenStore()
			if err != nil {
				return err
			}
			defer db.Close()

			all, err := tokens.ListTokens(context.Background())
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			for _, t := range all {
				state := "valid"
				switch {
				case t.Revoked:
					state = "revoked"
				case !now.Before(t.ExpiresAt):
					state = "expired"
				}
				fmt.Printf("%s  %-20s  %-8s  expires %s\n",
					t.Token[:8]+"…", t.ClientID, state, t.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func tokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, db, err := openTokenStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := tokens.RevokeToken(context.Background(), args[0]); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			fmt.Println("revoked")
			return nil
		},
	}
}
