package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
)

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

var (
	globalPool *Pool
	poolMu     sync.RWMutex
)

// SetGlobalPool sets the pool opened by Initialize.
func SetGlobalPool(p *Pool) {
	poolMu.Lock()
	defer poolMu.Unlock()
	globalPool = p
}

// GetGlobalPool returns the pool opened by Initialize, or nil.
func GetGlobalPool() *Pool {
	poolMu.RLock()
	defer poolMu.RUnlock()
	return globalPool
}

// NewPool creates a new MariaDB connection pool.
func NewPool(dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// MariaDB has no row level security, so every descriptor statement carries
// an explicit owner_id predicate instead.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            CHAR(36) PRIMARY KEY,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at    DATETIME(6) NOT NULL,
		UNIQUE KEY users_email (email)
	) DEFAULT CHARSET = utf8mb4`,
	`CREATE TABLE IF NOT EXISTS descriptors (
		id         CHAR(36) PRIMARY KEY,
		seq        BIGINT NOT NULL AUTO_INCREMENT UNIQUE,
		owner_id   CHAR(36) NOT NULL,
		label      VARCHAR(255) NOT NULL,
		descriptor MEDIUMBLOB NOT NULL,
		model      VARCHAR(100) NOT NULL DEFAULT '',
		dim        INT NOT NULL,
		bbox       VARCHAR(255) NULL,
		score      DOUBLE NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		KEY descriptors_owner (owner_id, seq),
		CONSTRAINT descriptors_owner_fk FOREIGN KEY (owner_id) REFERENCES users (id) ON DELETE CASCADE
	) DEFAULT CHARSET = utf8mb4`,
}

// Migrate creates the tables if they do not exist.
func (p *Pool) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Initialize connects, creates the schema and registers MariaDB as the
// active storage backend.
func Initialize(cfg *config.Config) error {
	if cfg == nil || cfg.MariaDB.DSN == "" {
		return errors.New("MariaDB DSN is required")
	}

	pool, err := NewPool(cfg.MariaDB.DSN)
	if err != nil {
		return err
	}
	if err := pool.Migrate(context.Background()); err != nil {
		_ = pool.Close()
		return err
	}

	SetGlobalPool(pool)

	model := cfg.Model()
	descriptors := NewDescriptorRepository(pool, model.Dim, model.Metric)
	users := NewUserRepository(pool)

	database.RegisterBackend("mariadb",
		func() database.DescriptorWriter { return descriptors },
		func() database.UserStore { return users },
	)
	log.Printf("Storage: using MariaDB backend")
	return nil
}
