package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/web/handlers"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account",
	Long: `Create an account without going through the web signup.

Example:
  facecam user create --email alice@example.com --password 'correct horse'`,
	RunE: runUserCreate,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)

	userCreateCmd.Flags().String("email", "", "Account email (required)")
	userCreateCmd.Flags().String("password", "", "Account password (required)")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	email := strings.TrimSpace(mustGetString(cmd, "email"))
	password := mustGetString(cmd, "password")
	if !strings.Contains(email, "@") {
		return errors.New("invalid email")
	}
	if len(password) < handlers.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", handlers.MinPasswordLength)
	}

	cfg := config.Load()
	if _, err := initStorage(cfg); err != nil {
		return err
	}
	defer closeStorage()

	ctx := context.Background()
	users, err := database.GetUserStore(ctx)
	if err != nil {
		return err
	}
	hash, err := handlers.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := users.CreateUser(ctx, email, hash)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Printf("Created user %s (%s)\n", user.Email, user.ID)
	return nil
}
