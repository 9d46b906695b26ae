package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kozaktomas/facecam/internal/database"
)

// UserRepository provides PostgreSQL-backed account storage
type UserRepository struct {
	pool *Pool
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(pool *Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// CreateUser stores a new account
func (r *UserRepository) CreateUser(ctx context.Context, email, passwordHash string) (*database.User, error) {
	email = strings.TrimSpace(email)

	var u database.User
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, created_at
	`, email, passwordHash).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, database.ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns the account for email, matched case-insensitively
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*database.User, error) {
	return r.getUser(ctx, "LOWER(email) = LOWER($1)", strings.TrimSpace(email))
}

// GetUser returns the account with id
func (r *UserRepository) GetUser(ctx context.Context, id string) (*database.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, database.ErrNotFound
	}
	return r.getUser(ctx, "id = $1", id)
}

func (r *UserRepository) getUser(ctx context.Context, where string, arg any) (*database.User, error) {
	var u database.User
	err := r.pool.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
