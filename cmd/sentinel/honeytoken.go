package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonny/sentinel/internal/adapter/outbound/persistence/sqlite"
	"github.com/jonny/sentinel/internal/config"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/service"
)

func newHoneytokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "honeytoken",
		Short: "Manage honeytokens",
	}
	cmd.AddCommand(newHoneytokenSeedCmd(configPath))
	return cmd
}

func newHoneytokenSeedCmd(configPath *string) *cobra.Command {
	var seed inbound.DeployHoneytokenCommand
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register a honeytoken; a value is generated when --value is omitted",
		Example: `  sentinel honeytoken seed --type credit_card --table payments --column card_number
  sentinel honeytoken seed --type email --table users --column email --value trap@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, closer := buildLogger(cfg.Logging)
			defer closer.Close()

			store, err := openStore(cfg.Database.SQLite, false)
			if err != nil {
				return err
			}
			defer store.Close()

			audit := service.NewAuditService(sqlite.NewAuditRepo(store), logger)
			registry := service.NewHoneytokenRegistry(sqlite.NewHoneytokenRepo(store), audit)

			token, err := registry.Deploy(cmd.Context(), seed)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(token)
			}
			fmt.Fprintf(out, "deployed %s honeytoken %s in %s.%s\nvalue: %s\n",
				token.TokenType, token.ID, token.TableName, token.ColumnName, token.TokenValue)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&seed.TokenType, "type", "", "token type (credit_card, api_key, email, ssn, custom)")
	f.StringVar(&seed.TableName, "table", "", "table the decoy row lives in")
	f.StringVar(&seed.ColumnName, "column", "", "column holding the decoy value")
	f.StringVar(&seed.TokenValue, "value", "", "explicit decoy value")
	f.StringVar(&seed.DeployedBy, "by", "cli", "actor recorded in the audit log")
	f.BoolVar(&asJSON, "json", false, "print the token as JSON")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}
