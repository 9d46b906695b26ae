package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/kozaktomas/facecam/internal/database"
)

// mysqlDuplicateEntry is the server error number for unique key violations.
const mysqlDuplicateEntry = 1062

// UserRepository stores accounts in MariaDB.
type UserRepository struct {
	pool *Pool
}

// NewUserRepository creates a new user repository.
func NewUserRepository(pool *Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// CreateUser stores a new account. Emails are compared lower-cased.
func (r *UserRepository) CreateUser(ctx context.Context, email, passwordHash string) (*database.User, error) {
	u := &database.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.pool.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return nil, database.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the account registered with email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*database.User, error) {
	return r.getUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

// GetUser returns the account with id.
func (r *UserRepository) GetUser(ctx context.Context, id string) (*database.User, error) {
	return r.getUser(ctx, "id = ?", id)
}

func (r *UserRepository) getUser(ctx context.Context, where string, arg any) (*database.User, error) {
	var u database.User
	err := r.pool.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
