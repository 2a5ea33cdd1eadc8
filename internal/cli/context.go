package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicledger/approvald/internal/config"
	"github.com/civicledger/approvald/internal/identity"
	"github.com/civicledger/approvald/internal/models"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextSetCmd)
	contextCmd.AddCommand(contextShowCmd)
	contextCmd.AddCommand(contextClearCmd)

	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (default: current actor)")
	tokenCmd.Flags().StringVar(&tokenRole, "for-role", "", "role claim (default: current role)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage the saved caller identity",
}

var contextSetCmd = &cobra.Command{
	Use:   "set <actor-id> <role>",
	Short: "Save the actor used when --as/--role are omitted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := strings.TrimSpace(args[0])
		if id == "" {
			return identity.ErrNoCaller
		}
		role, err := models.ParseRole(args[1])
		if err != nil {
			return fmt.Errorf("%w %q: expected one of citizen, officer, chairman", err, args[1])
		}

		store := contextStore()
		saved, err := store.Load()
		if err != nil {
			return err
		}
		saved.SetActor(id, string(role))
		if err := store.Save(saved); err != nil {
			return err
		}
		return printContext(cmd, saved)
	},
}

var contextShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved actor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		saved, err := contextStore().Load()
		if err != nil {
			return err
		}
		return printContext(cmd, saved)
	},
}

var contextClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the saved actor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := contextStore().Clear(); err != nil {
			return err
		}
		if !IsQuiet() && !IsStructuredOutput() {
			fmt.Fprintln(cmd.OutOrStdout(), "Context cleared.")
		}
		return nil
	},
}

func printContext(cmd *cobra.Command, saved *config.Context) error {
	if IsStructuredOutput() {
		return WriteOutput(cmd.OutOrStdout(), saved)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), saved.String())
	return err
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Long:  "Sign a token with the configured server secret so the given actor can call approvald.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		secret, err := cfg.JWTSecret()
		if err != nil {
			return err
		}

		subject, role := tokenSubject, tokenRole
		if subject == "" || role == "" {
			actor, err := resolveActor()
			if err != nil {
				return err
			}
			if subject == "" {
				subject = actor.ID
			}
			if role == "" {
				role = string(actor.Role)
			}
		}
		parsed, err := models.ParseRole(role)
		if err != nil {
			return err
		}

		token, err := identity.NewVerifier(secret, cfg.Server.JWTIssuer).Issue(subject, string(parsed), tokenTTL)
		if err != nil {
			return err
		}
		if IsStructuredOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]string{"token": token, "subject": subject, "role": string(parsed)})
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}
