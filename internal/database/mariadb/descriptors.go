package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facecam/internal/database"
)

const descriptorColumns = `id, seq, owner_id, label, descriptor, model, dim, bbox, score, created_at`

// DescriptorRepository stores descriptors as JSON arrays and ranks them in
// memory, MariaDB has no vector type.
type DescriptorRepository struct {
	pool   *Pool
	dim    int
	metric string
}

// NewDescriptorRepository creates a new descriptor repository.
func NewDescriptorRepository(pool *Pool, dim int, metric string) *DescriptorRepository {
	return &DescriptorRepository{pool: pool, dim: dim, metric: metric}
}

// List returns all descriptors of owner, oldest first.
func (r *DescriptorRepository) List(ctx context.Context, owner string) ([]database.StoredDescriptor, error) {
	rows, err := r.pool.db.QueryContext(ctx,
		`SELECT `+descriptorColumns+` FROM descriptors WHERE owner_id = ? ORDER BY seq`, owner)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	var out []database.StoredDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Get returns one descriptor of owner.
func (r *DescriptorRepository) Get(ctx context.Context, owner, id string) (*database.StoredDescriptor, error) {
	row := r.pool.db.QueryRowContext(ctx,
		`SELECT `+descriptorColumns+` FROM descriptors WHERE id = ? AND owner_id = ?`, id, owner)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Count returns the number of descriptors of owner.
func (r *DescriptorRepository) Count(ctx context.Context, owner string) (int, error) {
	var n int
	err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM descriptors WHERE owner_id = ?`, owner).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count descriptors: %w", err)
	}
	return n, nil
}

// FindNearest loads the owner's descriptors and ranks them in memory.
func (r *DescriptorRepository) FindNearest(
	ctx context.Context, owner string, descriptor []float32, limit int, maxDistance float64,
) ([]database.Neighbor, error) {
	if len(descriptor) == 0 {
		return nil, database.ErrEmptyDescriptor
	}
	all, err := r.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	return database.NearestInMemory(all, descriptor, r.metric, limit, maxDistance), nil
}

// Insert stores d for owner.
func (r *DescriptorRepository) Insert(ctx context.Context, owner string, d database.StoredDescriptor) (*database.StoredDescriptor, error) {
	if err := database.ValidateDescriptor(&d, r.dim); err != nil {
		return nil, err
	}

	values, err := json.Marshal(d.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	var bbox []byte
	if len(d.BBox) > 0 {
		if bbox, err = json.Marshal(d.BBox); err != nil {
			return nil, fmt.Errorf("marshal bbox: %w", err)
		}
	}

	d.ID = uuid.NewString()
	d.OwnerID = owner
	d.CreatedAt = time.Now().UTC()

	res, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO descriptors (id, owner_id, label, descriptor, model, dim, bbox, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, owner, d.Label, values, d.Model, d.Dim, nullableBytes(bbox), d.Score, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert descriptor: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		d.Seq = seq
	}
	return &d, nil
}

// Delete removes one descriptor of owner.
func (r *DescriptorRepository) Delete(ctx context.Context, owner, id string) error {
	res, err := r.pool.db.ExecContext(ctx, `DELETE FROM descriptors WHERE id = ? AND owner_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete descriptor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// DeleteAll removes every descriptor of owner.
func (r *DescriptorRepository) DeleteAll(ctx context.Context, owner string) (int, error) {
	res, err := r.pool.db.ExecContext(ctx, `DELETE FROM descriptors WHERE owner_id = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("delete descriptors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func scanDescriptor(scanner interface{ Scan(...any) error }) (database.StoredDescriptor, error) {
	var (
		d      database.StoredDescriptor
		values []byte
		bbox   sql.NullString
	)
	err := scanner.Scan(&d.ID, &d.Seq, &d.OwnerID, &d.Label, &values, &d.Model, &d.Dim, &bbox, &d.Score, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("scan descriptor: %w", err)
	}
	if err := json.Unmarshal(values, &d.Descriptor); err != nil {
		return d, fmt.Errorf("unmarshal descriptor %s: %w", d.ID, err)
	}
	if bbox.Valid && bbox.String != "" {
		if err := json.Unmarshal([]byte(bbox.String), &d.BBox); err != nil {
			return d, fmt.Errorf("unmarshal bbox %s: %w", d.ID, err)
		}
	}
	return d, nil
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
