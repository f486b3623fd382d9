package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookdesk/internal/tokens"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Webhook key management",
}

var keyCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a webhook key and print its value",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyCreate,
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhook keys",
	RunE:  runKeyList,
}

var keyToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Enable a disabled key or disable an active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyToggle,
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a webhook key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyDelete,
}

var keyDescription string

func init() {
	keyCreateCmd.Flags().StringVar(&keyDescription, "description", "", "Key description")
	keyDeleteCmd.Flags().BoolVarP(&forceYes, "yes", "y", false, "Do not ask for confirmation")

	keyCmd.PersistentFlags().StringVar(&actorEmail, "as", "", "Email of the user the change is recorded for (default system)")

	keyCmd.AddCommand(keyCreateCmd)
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keyToggleCmd)
	keyCmd.AddCommand(keyDeleteCmd)
}

func runKeyCreate(cmd *cobra.Command, args []string) error {
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

	key, err := newTokenService(e).CreateKey(ctx, actor, tokens.CreateKeyInput{
		Name:        args[0],
		Description: keyDescription,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Key %q created (id %s)\n", key.Name, key.ID)
	fmt.Printf("Key: %s\n", key.Key)
	return nil
}

func runKeyList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	list, err := newTokenService(e).ListKeys(cmd.Context())
	if err != nil {
		return err
	}

	table := newTable("ID", "Name", "Status", "Created")
	for _, k := range list {
		if err := table.Append(k.ID, k.Name, activeLabel(k.IsActive), formatTime(&k.CreatedAt)); err != nil {
			return err
		}
	}
	return table.Render()
}

func runKeyToggle(cmd *cobra.Command, args []string) error {
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

	key, err := newTokenService(e).ToggleKey(ctx, actor, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Key %q is now %s\n", key.Name, activeLabel(key.IsActive))
	return nil
}

func runKeyDelete(cmd *cobra.Command, args []string) error {
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

	if !forceYes && !confirm(fmt.Sprintf("Delete key %s?", args[0])) {
		fmt.Println("Cancelled")
		return nil
	}

	if err := newTokenService(e).DeleteKey(ctx, actor, args[0]); err != nil {
		return err
	}

	fmt.Printf("Key %s deleted\n", args[0])
	return nil
}
