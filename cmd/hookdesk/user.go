package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxzi/hookdesk/internal/auth"
	"github.com/foxzi/hookdesk/internal/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	RunE:  runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE:  runUserList,
}

var userSetRoleCmd = &cobra.Command{
	Use:   "set-role [email] [role]",
	Short: "Change a user's role (owner, admin or member)",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserSetRole,
}

var (
	userEmail    string
	userPassword string
	userName     string
	userRole     string
	userNoPass   bool
)

const minPasswordLength = 10

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "User email")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "User password (will prompt if not provided)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "User name")
	userCreateCmd.Flags().StringVar(&userRole, "role", models.RoleMember, "Role: owner, admin or member")
	userCreateCmd.Flags().BoolVar(&userNoPass, "oidc-only", false, "Create without a local password")
	_ = userCreateCmd.MarkFlagRequired("email")

	userSetRoleCmd.Flags().StringVar(&actorEmail, "as", "", "Email of the user the change is recorded for (default system)")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userSetRoleCmd)
}

func newAuthService(e *cliEnv) *auth.Service {
	return auth.NewService(e.store.Users, e.recorder, auth.NewTokenManager(e.cfg.Auth.JWTSecret, e.cfg.Auth.TokenTTL), e.logger)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	password := userPassword
	if password == "" && !userNoPass {
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}
	if password != "" && len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	user, err := newAuthService(e).CreateUser(cmd.Context(), userEmail, userName, password, userRole)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User %s created with role %s (id %s)\n", user.Email, user.Role, user.ID)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Enter password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	pw2, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	if string(pw) != string(pw2) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pw), nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	users, err := e.store.Users.ListUsers(cmd.Context())
	if err != nil {
		return err
	}

	table := newTable("ID", "Email", "Name", "Role", "Created")
	for _, u := range users {
		if err := table.Append(u.ID, u.Email, u.Name, u.Role, u.CreatedAt.Format("2006-01-02 15:04")); err != nil {
			return err
		}
	}
	return table.Render()
}

func runUserSetRole(cmd *cobra.Command, args []string) error {
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

	target, err := e.store.Users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(args[0])))
	if err != nil {
		return fmt.Errorf("user %s: %w", args[0], err)
	}

	user, err := newAuthService(e).SetRole(ctx, actor, target.ID, args[1])
	if err != nil {
		return err
	}

	fmt.Printf("User %s is now %s\n", user.Email, user.Role)
	return nil
}
