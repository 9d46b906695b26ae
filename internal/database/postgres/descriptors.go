package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/facematch"
)

// appRole is the role owner-scoped transactions run as. Row level security
// applies to it even when the connecting user is a superuser.
const appRole = "facecam_app"

const descriptorColumns = `id, seq, owner_id, label, descriptor, model, dim, bbox, score, created_at`

// DescriptorRepository provides PostgreSQL-backed descriptor storage with
// optional per-owner in-memory HNSW indexes.
type DescriptorRepository struct {
	pool   *Pool
	dim    int
	metric string

	hnswEnabled bool
	hnswPath    string // Directory to persist indexes (optional)
	hnswIndexes map[string]*database.HNSWIndex
	hnswMu      sync.RWMutex
}

// NewDescriptorRepository creates a repository that validates descriptors
// against dim and ranks them by metric.
func NewDescriptorRepository(pool *Pool, dim int, metric string) *DescriptorRepository {
	if metric == "" {
		metric = facematch.MetricEuclidean
	}
	return &DescriptorRepository{
		pool:        pool,
		dim:         dim,
		metric:      metric,
		hnswIndexes: make(map[string]*database.HNSWIndex),
	}
}

// withOwner runs fn in a transaction scoped to owner. The transaction
// switches to the application role and publishes the owner id for the row
// level security policies; queries inside fn carry no owner filter.
func (r *DescriptorRepository) withOwner(ctx context.Context, owner string, readOnly bool, fn func(tx *sql.Tx) error) error {
	ownerID, err := uuid.Parse(owner)
	if err != nil {
		return fmt.Errorf("invalid owner id %q: %w", owner, err)
	}

	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+appRole); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "SELECT set_config('facecam.owner_id', $1, true)", ownerID.String()); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// distanceOperator returns the pgvector operator matching the metric.
func (r *DescriptorRepository) distanceOperator() string {
	if r.metric == facematch.MetricCosine {
		return "<=>"
	}
	return "<->"
}

// List returns all descriptors visible to owner.
func (r *DescriptorRepository) List(ctx context.Context, owner string) ([]database.StoredDescriptor, error) {
	var out []database.StoredDescriptor
	err := r.withOwner(ctx, owner, true, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+descriptorColumns+` FROM descriptors ORDER BY created_at, seq`)
		if err != nil {
			return fmt.Errorf("query descriptors: %w", err)
		}
		defer rows.Close()

		out, err = scanDescriptors(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one descriptor visible to owner.
func (r *DescriptorRepository) Get(ctx context.Context, owner, id string) (*database.StoredDescriptor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, database.ErrNotFound
	}

	var out database.StoredDescriptor
	err := r.withOwner(ctx, owner, true, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+descriptorColumns+` FROM descriptors WHERE id = $1`, id)
		d, err := scanDescriptorRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrNotFound
		}
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Count returns the number of descriptors visible to owner.
func (r *DescriptorRepository) Count(ctx context.Context, owner string) (int, error) {
	var count int
	err := r.withOwner(ctx, owner, true, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM descriptors").Scan(&count); err != nil {
			return fmt.Errorf("count descriptors: %w", err)
		}
		return nil
	})
	return count, err
}

// FindNearest returns the descriptors of owner closest to descriptor.
// Uses the owner's in-memory HNSW index if enabled, otherwise PostgreSQL.
func (r *DescriptorRepository) FindNearest(
	ctx context.Context, owner string, descriptor []float32, limit int, maxDistance float64,
) ([]database.Neighbor, error) {
	if len(descriptor) == 0 {
		return nil, database.ErrEmptyDescriptor
	}
	if limit <= 0 {
		limit = 1
	}

	if r.IsHNSWEnabled() {
		return r.findNearestHNSW(ctx, owner, descriptor, limit, maxDistance)
	}
	return r.findNearestPostgres(ctx, owner, descriptor, limit, maxDistance)
}

func (r *DescriptorRepository) findNearestPostgres(
	ctx context.Context, owner string, descriptor []float32, limit int, maxDistance float64,
) ([]database.Neighbor, error) {
	op := r.distanceOperator()
	query := fmt.Sprintf(`
		SELECT %s, descriptor %s $1::vector AS distance
		FROM descriptors
		WHERE dim = $2 AND ($3::float8 <= 0 OR descriptor %s $1::vector <= $3::float8)
		ORDER BY distance
		LIMIT $4
	`, descriptorColumns, op, op)

	var out []database.Neighbor
	err := r.withOwner(ctx, owner, true, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, pgvector.NewVector(descriptor), len(descriptor), maxDistance, limit)
		if err != nil {
			return fmt.Errorf("query nearest descriptors: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var dist float64
			d, err := scanDescriptorRow(rows, &dist)
			if err != nil {
				return err
			}
			out = append(out, database.Neighbor{Descriptor: d, Distance: dist})
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate descriptors: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DescriptorRepository) findNearestHNSW(
	ctx context.Context, owner string, descriptor []float32, limit int, maxDistance float64,
) ([]database.Neighbor, error) {
	index, err := r.ownerIndex(ctx, owner)
	if err != nil {
		return nil, err
	}

	// Request more candidates to ensure we have enough after distance filtering.
	searchK := max(limit*database.HNSWSearchMultiplier, database.HNSWMinSearch)
	candidates, err := index.Search(descriptor, searchK)
	if errors.Is(err, facematch.ErrDimensionMismatch) {
		// Same as the SQL path: rows of another dimension never match.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("HNSW search: %w", err)
	}

	out := make([]database.Neighbor, 0, limit)
	for _, c := range candidates {
		if maxDistance > 0 && c.Distance > maxDistance {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Insert stores a descriptor for owner.
func (r *DescriptorRepository) Insert(ctx context.Context, owner string, d database.StoredDescriptor) (*database.StoredDescriptor, error) {
	if err := database.ValidateDescriptor(&d, r.dim); err != nil {
		return nil, err
	}

	var out database.StoredDescriptor
	err := r.withOwner(ctx, owner, false, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO descriptors (owner_id, label, descriptor, model, dim, bbox, score)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+descriptorColumns,
			owner, d.Label, pgvector.NewVector(d.Descriptor), d.Model, d.Dim, pq.Float64Array(d.BBox), d.Score,
		)
		var err error
		out, err = scanDescriptorRow(row)
		if err != nil {
			return fmt.Errorf("insert descriptor: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.indexAdd(owner, out)
	return &out, nil
}

// Delete removes one descriptor visible to owner.
func (r *DescriptorRepository) Delete(ctx context.Context, owner, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return database.ErrNotFound
	}

	var seq int64
	err := r.withOwner(ctx, owner, false, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "DELETE FROM descriptors WHERE id = $1 RETURNING seq", id).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete descriptor: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.indexDelete(owner, seq)
	return nil
}

// DeleteAll removes every descriptor visible to owner.
func (r *DescriptorRepository) DeleteAll(ctx context.Context, owner string) (int, error) {
	var deleted int64
	err := r.withOwner(ctx, owner, false, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM descriptors")
		if err != nil {
			return fmt.Errorf("delete descriptors: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.hnswMu.Lock()
	delete(r.hnswIndexes, owner)
	r.hnswMu.Unlock()
	return int(deleted), nil
}

// scanDescriptorRow scans a row into a StoredDescriptor, with optional extra
// destinations appended after the standard columns (e.g., a distance column).
func scanDescriptorRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredDescriptor, error) {
	var d database.StoredDescriptor
	var vec pgvector.Vector
	var bbox pq.Float64Array

	dest := make([]any, 0, 10+len(extraDest))
	dest = append(dest,
		&d.ID,
		&d.Seq,
		&d.OwnerID,
		&d.Label,
		&vec,
		&d.Model,
		&d.Dim,
		&bbox,
		&d.Score,
		&d.CreatedAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("scan descriptor: %w", err)
	}

	d.Descriptor = vec.Slice()
	d.BBox = []float64(bbox)
	return d, nil
}

func scanDescriptors(rows *sql.Rows) ([]database.StoredDescriptor, error) {
	var out []database.StoredDescriptor
	for rows.Next() {
		d, err := scanDescriptorRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return out, nil
}

// EnableHNSW switches nearest queries to per-owner in-memory indexes. Each
// index is built on first use from the owner's rows, read through the same
// row level security as every other query. If indexPath is set, indexes are
// loaded from and saved to that directory.
func (r *DescriptorRepository) EnableHNSW(indexPath string) {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = true
	r.hnswPath = indexPath
	r.hnswIndexes = make(map[string]*database.HNSWIndex)
}

// DisableHNSW disables the in-memory indexes, falling back to PostgreSQL queries.
func (r *DescriptorRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndexes = make(map[string]*database.HNSWIndex)
}

// IsHNSWEnabled returns whether the in-memory HNSW indexes are enabled.
func (r *DescriptorRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled
}

// HNSWCount returns the number of descriptors held in cached indexes.
func (r *DescriptorRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	total := 0
	for _, idx := range r.hnswIndexes {
		total += idx.Count()
	}
	return total
}

// RebuildHNSW drops cached indexes; they are rebuilt on next use.
func (r *DescriptorRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswIndexes = make(map[string]*database.HNSWIndex)
	return nil
}

// SaveHNSWIndex writes every cached index to the index directory.
func (r *DescriptorRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswPath == "" {
		return nil // No path configured, nothing to save
	}
	if err := os.MkdirAll(r.hnswPath, 0o750); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	for owner, idx := range r.hnswIndexes {
		if err := idx.Save(r.indexFile(owner)); err != nil {
			return fmt.Errorf("save index for %s: %w", owner, err)
		}
	}
	log.Printf("Descriptor index: saved %d owner indexes to %s", len(r.hnswIndexes), r.hnswPath)
	return nil
}

func (r *DescriptorRepository) indexFile(owner string) string {
	return filepath.Join(r.hnswPath, owner+".hnsw")
}

// ownerIndex returns the cached index of owner, loading or building it on first use.
func (r *DescriptorRepository) ownerIndex(ctx context.Context, owner string) (*database.HNSWIndex, error) {
	r.hnswMu.RLock()
	idx, ok := r.hnswIndexes[owner]
	path := r.hnswPath
	r.hnswMu.RUnlock()
	if ok {
		return idx, nil
	}

	idx = database.NewHNSWIndex(r.metric)
	if path != "" && r.tryLoadIndex(ctx, owner, idx) {
		r.storeIndex(owner, idx)
		return idx, nil
	}

	descs, err := r.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load descriptors for index: %w", err)
	}
	idx.Build(descs)
	r.storeIndex(owner, idx)
	return idx, nil
}

// tryLoadIndex loads a persisted index and accepts it only when it matches
// the owner's rows by count and highest key.
func (r *DescriptorRepository) tryLoadIndex(ctx context.Context, owner string, idx *database.HNSWIndex) bool {
	meta, err := idx.Load(r.indexFile(owner))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("Descriptor index: %v (will rebuild)", err)
		}
		return false
	}

	var count, maxSeq int64
	err = r.withOwner(ctx, owner, true, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM descriptors").Scan(&count, &maxSeq)
	})
	if err != nil {
		log.Printf("Descriptor index: failed to read stats: %v (will rebuild)", err)
		return false
	}
	if meta.Count != count || meta.MaxSeq != maxSeq {
		log.Printf("Descriptor index: stale for %s (db: count=%d max=%d, cached: count=%d max=%d)",
			owner, count, maxSeq, meta.Count, meta.MaxSeq)
		return false
	}
	return true
}

func (r *DescriptorRepository) storeIndex(owner string, idx *database.HNSWIndex) {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	if r.hnswEnabled {
		r.hnswIndexes[owner] = idx
	}
}

func (r *DescriptorRepository) indexAdd(owner string, d database.StoredDescriptor) {
	r.hnswMu.RLock()
	idx, ok := r.hnswIndexes[owner]
	r.hnswMu.RUnlock()
	if ok {
		idx.Add(d)
	}
}

func (r *DescriptorRepository) indexDelete(owner string, seq int64) {
	r.hnswMu.RLock()
	idx, ok := r.hnswIndexes[owner]
	r.hnswMu.RUnlock()
	if ok {
		idx.Delete(seq)
	}
}
