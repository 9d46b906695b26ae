//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/facematch"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func createUser(t *testing.T, users *UserRepository, email string) string {
	t.Helper()
	u, err := users.CreateUser(context.Background(), email, "hash")
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", email, err)
	}
	return u.ID
}

func vec(values ...float32) []float32 {
	return values
}

func TestDescriptorRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	users := NewUserRepository(pool)
	alice := createUser(t, users, "alice@example.com")
	bob := createUser(t, users, "bob@example.com")

	repo := NewDescriptorRepository(pool, 3, facematch.MetricEuclidean)

	var aliceDesc *database.StoredDescriptor

	t.Run("InsertAndGet", func(t *testing.T) {
		var err error
		aliceDesc, err = repo.Insert(ctx, alice, database.StoredDescriptor{
			Label:      "Alice",
			Descriptor: vec(0, 0, 0),
			Model:      "face-api-128",
			BBox:       []float64{1, 2, 30, 40},
			Score:      0.98,
		})
		if err != nil {
			t.Fatalf("Failed to insert descriptor: %v", err)
		}
		if aliceDesc.ID == "" || aliceDesc.OwnerID != alice || aliceDesc.Dim != 3 {
			t.Errorf("Unexpected stored descriptor: %+v", aliceDesc)
		}

		got, err := repo.Get(ctx, alice, aliceDesc.ID)
		if err != nil {
			t.Fatalf("Failed to get descriptor: %v", err)
		}
		if got.Label != "Alice" || len(got.Descriptor) != 3 || len(got.BBox) != 4 {
			t.Errorf("Unexpected descriptor: %+v", got)
		}
	})

	t.Run("OtherOwnerCannotSee", func(t *testing.T) {
		if _, err := repo.Get(ctx, bob, aliceDesc.ID); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for other owner, got %v", err)
		}
		list, err := repo.List(ctx, bob)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("Bob should see no descriptors, got %d", len(list))
		}
		nearest, err := repo.FindNearest(ctx, bob, vec(0, 0, 0), 5, 0)
		if err != nil {
			t.Fatalf("Failed to find nearest: %v", err)
		}
		if len(nearest) != 0 {
			t.Errorf("Bob should match nothing, got %d", len(nearest))
		}
	})

	t.Run("OtherOwnerCannotDelete", func(t *testing.T) {
		if err := repo.Delete(ctx, bob, aliceDesc.ID); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if n, err := repo.DeleteAll(ctx, bob); err != nil || n != 0 {
			t.Errorf("Bob's DeleteAll should remove nothing, got %d, %v", n, err)
		}
		if n, _ := repo.Count(ctx, alice); n != 1 {
			t.Errorf("Alice should still have 1 descriptor, got %d", n)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		if _, err := repo.Insert(ctx, alice, database.StoredDescriptor{Label: "x"}); !errors.Is(err, database.ErrEmptyDescriptor) {
			t.Errorf("Expected ErrEmptyDescriptor, got %v", err)
		}
		_, err := repo.Insert(ctx, alice, database.StoredDescriptor{Label: "x", Descriptor: vec(1, 2)})
		if !errors.Is(err, facematch.ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", err)
		}
		if _, err := repo.List(ctx, "not-a-uuid"); err == nil {
			t.Error("Expected error for invalid owner")
		}
	})

	t.Run("FindNearest", func(t *testing.T) {
		if _, err := repo.Insert(ctx, alice, database.StoredDescriptor{Label: "Carol", Descriptor: vec(1, 1, 1)}); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
		if _, err := repo.Insert(ctx, bob, database.StoredDescriptor{Label: "Bob", Descriptor: vec(0.1, 0, 0)}); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}

		nearest, err := repo.FindNearest(ctx, alice, vec(0.1, 0.1, 0.1), 5, 0)
		if err != nil {
			t.Fatalf("Failed to find nearest: %v", err)
		}
		if len(nearest) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(nearest))
		}
		if nearest[0].Descriptor.Label != "Alice" {
			t.Errorf("Expected Alice first, got %s", nearest[0].Descriptor.Label)
		}
		if nearest[0].Distance > nearest[1].Distance {
			t.Error("Results should be ordered by distance")
		}

		limited, err := repo.FindNearest(ctx, alice, vec(0.1, 0.1, 0.1), 5, 0.5)
		if err != nil {
			t.Fatalf("Failed to find nearest: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("Expected 1 result within 0.5, got %d", len(limited))
		}
	})

	t.Run("FindNearestHNSW", func(t *testing.T) {
		repo.EnableHNSW(t.TempDir())
		defer repo.DisableHNSW()

		nearest, err := repo.FindNearest(ctx, alice, vec(0.9, 0.9, 0.9), 1, 0)
		if err != nil {
			t.Fatalf("Failed HNSW search: %v", err)
		}
		if len(nearest) != 1 || nearest[0].Descriptor.Label != "Carol" {
			t.Errorf("Expected Carol, got %+v", nearest)
		}
		if repo.HNSWCount() != 2 {
			t.Errorf("Expected 2 indexed descriptors for alice, got %d", repo.HNSWCount())
		}

		// A query of another dimension finds nothing, like the SQL path.
		nearest, err = repo.FindNearest(ctx, alice, vec(0.9, 0.9), 1, 0)
		if err != nil {
			t.Errorf("Dimension mismatch should not fail the search: %v", err)
		}
		if len(nearest) != 0 {
			t.Errorf("Expected no neighbors for a 2-dim query, got %+v", nearest)
		}

		// Bob's index only ever holds Bob's rows.
		nearest, err = repo.FindNearest(ctx, bob, vec(0.9, 0.9, 0.9), 5, 0)
		if err != nil {
			t.Fatalf("Failed HNSW search: %v", err)
		}
		if len(nearest) != 1 || nearest[0].Descriptor.Label != "Bob" {
			t.Errorf("Expected only Bob, got %+v", nearest)
		}

		if err := repo.SaveHNSWIndex(); err != nil {
			t.Fatalf("Failed to save index: %v", err)
		}
		if err := repo.RebuildHNSW(ctx); err != nil {
			t.Fatalf("Failed to rebuild: %v", err)
		}
		nearest, err = repo.FindNearest(ctx, alice, vec(0, 0, 0), 1, 0)
		if err != nil || len(nearest) != 1 || nearest[0].Descriptor.Label != "Alice" {
			t.Errorf("Expected Alice after reload, got %+v, %v", nearest, err)
		}
	})

	t.Run("DeleteAndDeleteAll", func(t *testing.T) {
		if err := repo.Delete(ctx, alice, aliceDesc.ID); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if err := repo.Delete(ctx, alice, aliceDesc.ID); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Second delete should be ErrNotFound, got %v", err)
		}
		n, err := repo.DeleteAll(ctx, alice)
		if err != nil {
			t.Fatalf("Failed to delete all: %v", err)
		}
		if n != 1 {
			t.Errorf("Expected 1 deleted, got %d", n)
		}
		if c, _ := repo.Count(ctx, bob); c != 1 {
			t.Errorf("Bob's descriptor must survive, count=%d", c)
		}
	})
}

func TestRowLevelSecurityWithoutOwner(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	users := NewUserRepository(pool)
	alice := createUser(t, users, "alice@example.com")
	repo := NewDescriptorRepository(pool, 0, facematch.MetricEuclidean)
	if _, err := repo.Insert(ctx, alice, database.StoredDescriptor{Label: "a", Descriptor: vec(1, 2)}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	// As the application role with no owner set, no rows are visible and
	// inserts for arbitrary owners are refused.
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+appRole); err != nil {
		t.Fatalf("Failed to set role: %v", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM descriptors").Scan(&count); err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 visible rows without owner, got %d", count)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO descriptors (owner_id, label, descriptor, dim) VALUES ($1, 'x', '[1,2]', 2)", alice)
	if err == nil {
		t.Error("Expected insert without owner context to violate row level security")
	}
}

func TestUserRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	users := NewUserRepository(pool)

	u, err := users.CreateUser(ctx, "Dana@Example.com", "bcrypt-hash")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	if _, err := users.CreateUser(ctx, "dana@example.com", "other"); !errors.Is(err, database.ErrEmailTaken) {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}

	got, err := users.GetUserByEmail(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("Failed to get user by email: %v", err)
	}
	if got.ID != u.ID || got.PasswordHash != "bcrypt-hash" {
		t.Errorf("Unexpected user: %+v", got)
	}

	if _, err := users.GetUser(ctx, u.ID); err != nil {
		t.Errorf("Failed to get user by id: %v", err)
	}
	if _, err := users.GetUser(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := users.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	userID := createUser(t, NewUserRepository(pool), "erin@example.com")
	sessions := NewSessionRepository(pool)

	now := time.Now()
	if err := sessions.Save(ctx, "live", userID, now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}
	if err := sessions.Save(ctx, "expired", userID, now.Add(-2*time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	s, err := sessions.Get(ctx, "live")
	if err != nil || s == nil {
		t.Fatalf("Expected live session, got %v, %v", s, err)
	}
	if s.UserID != userID {
		t.Errorf("Expected user %s, got %s", userID, s.UserID)
	}

	if s, _ := sessions.Get(ctx, "expired"); s != nil {
		t.Error("Expired session should not be returned")
	}

	n, err := sessions.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("Failed to delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired session deleted, got %d", n)
	}

	if err := sessions.Delete(ctx, "live"); err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}
	if s, _ := sessions.Get(ctx, "live"); s != nil {
		t.Error("Deleted session should not be returned")
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	// Running again is a no-op.
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expectedMigrations := []string{
		"001_init.sql",
		"002_row_level_security.sql",
	}

	if len(applied) != len(expectedMigrations) {
		t.Errorf("Expected %d migrations, got %d", len(expectedMigrations), len(applied))
	}

	for i, expected := range expectedMigrations {
		if i < len(applied) && applied[i] != expected {
			t.Errorf("Migration %d: expected '%s', got '%s'", i, expected, applied[i])
		}
	}
}
