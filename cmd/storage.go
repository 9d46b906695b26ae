package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/database/mariadb"
	"github.com/kozaktomas/facecam/internal/database/postgres"
	"github.com/kozaktomas/facecam/internal/web/middleware"
)

// initStorage connects the backend selected by DATABASE_BACKEND, runs its
// migrations and registers it. Sessions are persisted with PostgreSQL only,
// for other backends the returned repository is nil.
func initStorage(cfg *config.Config) (middleware.SessionRepository, error) {
	switch cfg.Database.Backend {
	case "mariadb":
		if cfg.MariaDB.DSN == "" {
			return nil, errors.New("MARIADB_DSN environment variable is required")
		}
		fmt.Println("Connecting to MariaDB database...")
		if err := mariadb.Initialize(cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize MariaDB: %w", err)
		}
		return nil, nil
	case "", "postgres":
		if cfg.Database.URL == "" {
			return nil, errors.New("DATABASE_URL environment variable is required")
		}
		fmt.Println("Connecting to PostgreSQL database...")
		if err := postgres.Initialize(cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		return postgres.NewSessionRepository(postgres.GetGlobalPool()), nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

// closeStorage releases whichever backend pool was opened.
func closeStorage() {
	if pool := postgres.GetGlobalPool(); pool != nil {
		if err := pool.Close(); err != nil {
			log.Printf("Failed to close PostgreSQL pool: %v", err)
		}
		postgres.SetGlobalPool(nil)
	}
	if pool := mariadb.GetGlobalPool(); pool != nil {
		if err := pool.Close(); err != nil {
			log.Printf("Failed to close MariaDB pool: %v", err)
		}
		mariadb.SetGlobalPool(nil)
	}
}

// lookupUser resolves an account by email.
func lookupUser(ctx context.Context, email string) (*database.User, error) {
	if email == "" {
		return nil, errors.New("--email is required")
	}
	users, err := database.GetUserStore(ctx)
	if err != nil {
		return nil, err
	}
	user, err := users.GetUserByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	return user, err
}

// openUserStore loads config, initializes storage and resolves the account
// of email together with the descriptor store.
func openUserStore(ctx context.Context, email string) (*config.Config, *database.User, database.DescriptorWriter, error) {
	cfg := config.Load()
	if _, err := initStorage(cfg); err != nil {
		return nil, nil, nil, err
	}
	user, err := lookupUser(ctx, email)
	if err != nil {
		closeStorage()
		return nil, nil, nil, err
	}
	store, err := database.GetDescriptorWriter(ctx)
	if err != nil {
		closeStorage()
		return nil, nil, nil, err
	}
	return cfg, user, store, nil
}
