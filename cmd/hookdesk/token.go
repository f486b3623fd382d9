package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookdesk/internal/tokens"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Webhook token management",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a webhook token and print its secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenCreate,
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhook tokens",
	RunE:  runTokenList,
}

var tokenToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Enable a disabled token or disable an active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenToggle,
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a webhook token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenDelete,
}

var (
	tokenDescription string
	tokenExpiresDays int
	forceYes         bool
)

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenDescription, "description", "", "Token description")
	tokenCreateCmd.Flags().IntVar(&tokenExpiresDays, "expires-days", 0, "Days until the token expires (0 never)")
	tokenDeleteCmd.Flags().BoolVarP(&forceYes, "yes", "y", false, "Do not ask for confirmation")

	tokenCmd.PersistentFlags().StringVar(&actorEmail, "as", "", "Email of the user the change is recorded for (default system)")

	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenToggleCmd)
	tokenCmd.AddCommand(tokenDeleteCmd)
}

func newTokenService(e *cliEnv) *tokens.Service {
	return tokens.NewService(e.store.Tokens, e.store.Keys, e.recorder, nil, e.logger)
}

func runTokenCreate(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	actor, err := e.actor(ctx)
	if err != nil {
		return err
	}

	token, err := newTokenService(e).CreateToken(ctx, actor, tokens.CreateTokenInput{
		Name:          args[0],
		Description:   tokenDescription,
		ExpiresInDays: tokenExpiresDays,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Token %q created (id %s)\n", token.Name, token.ID)
	if token.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("Secret: %s\n", token.Token)
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	list, err := newTokenService(e).ListTokens(cmd.Context())
	if err != nil {
		return err
	}

	table := newTable("ID", "Name", "Status", "Expires", "Created")
	for _, t := range list {
		if err := table.Append(t.ID, t.Name, activeLabel(t.IsActive), formatTime(t.ExpiresAt), formatTime(&t.CreatedAt)); err != nil {
			return err
		}
	}
	return table.Render()
}

func runTokenToggle(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	actor, err := e.actor(ctx)
	if err != nil {
		return err
	}

	token, err := newTokenService(e).ToggleToken(ctx, actor, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Token %q is now %s\n", token.Name, activeLabel(token.IsActive))
	return nil
}

func runTokenDelete(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	actor, err := e.actor(ctx)
	if err != nil {
		return err
	}

	if !forceYes && !confirm(fmt.Sprintf("Delete token %s?", args[0])) {
		fmt.Println("Cancelled")
		return nil
	}

	if err := newTokenService(e).DeleteToken(ctx, actor, args[0]); err != nil {
		return err
	}

	fmt.Printf("Token %s deleted\n", args[0])
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "disabled"
}
