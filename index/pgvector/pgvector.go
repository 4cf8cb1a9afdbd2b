// Package pgvector backs the vector index capability with a PostgreSQL
// table using the pgvector extension.
//
// Schema, created on first use (the vector extension itself may need a
// privileged migration):
//
//	CREATE TABLE snipvec_vectors (
//	    id        BIGINT PRIMARY KEY,
//	    embedding vector(D) NOT NULL,
//	    deleted   BOOLEAN NOT NULL DEFAULT FALSE
//	);
//
// Rows are never removed: deletion flips the flag, so burned ids live in
// the table itself and the id sequence recovers from MAX(id) on start.
// Searches rank with the <-> operator (plain L2, ties broken by id in
// SQL) and square the distance to match the module's metric.
package pgvector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/snipvec/snipvec/index"
)

// Options contains the configuration options for the pgvector index.
type Options struct {
	// Table is the table holding the vectors. It must be a plain
	// identifier; it is quoted before use.
	Table string
}

// DefaultOptions contains the default configuration options for the
// pgvector index.
var DefaultOptions = Options{
	Table: "snipvec_vectors",
}

// Index is a vector index backed by a pgvector table.
type Index struct {
	db    *sqlx.DB
	table string
	dim   int
	owned bool

	mu         sync.RWMutex
	nextID     uint64
	tombstones *roaring64.Bitmap
}

var _ index.Index = (*Index)(nil)

// Open connects to dsn, prepares the schema and recovers the id sequence.
// The connection pool is owned by the index and released by Close.
func Open(ctx context.Context, dsn string, dim int, optFns ...func(o *Options)) (*Index, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	idx, err := New(ctx, db, dim, optFns...)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx.owned = true
	return idx, nil
}

// New builds the index on a caller-owned connection pool, prepares the
// schema and recovers the id sequence and tombstone set from the table.
func New(ctx context.Context, db *sqlx.DB, dim int, optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: dim}
	}

	idx := &Index{
		db:         db,
		table:      pq.QuoteIdentifier(opts.Table),
		dim:        dim,
		tombstones: roaring64.New(),
	}
	if err := idx.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if err := idx.loadState(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *Index) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector extension: %w", err)
	}

	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id BIGINT PRIMARY KEY, embedding vector(%d) NOT NULL, deleted BOOLEAN NOT NULL DEFAULT FALSE)",
		p.table, p.dim,
	)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", p.table, err)
	}
	return nil
}

func (p *Index) loadState(ctx context.Context) error {
	var next int64
	if err := p.db.GetContext(ctx, &next, fmt.Sprintf("SELECT COALESCE(MAX(id) + 1, 0) FROM %s", p.table)); err != nil {
		return fmt.Errorf("recovering id sequence: %w", err)
	}

	var deleted []int64
	if err := p.db.SelectContext(ctx, &deleted, fmt.Sprintf("SELECT id FROM %s WHERE deleted ORDER BY id", p.table)); err != nil {
		return fmt.Errorf("loading tombstones: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID = uint64(next)
	p.tombstones = roaring64.New()
	for _, id := range deleted {
		p.tombstones.Add(uint64(id))
	}
	return nil
}

// vectorLiteral renders a pgvector input literal with full float32
// precision.
func vectorLiteral(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Insert stores the vector under the next id. A failed insert burns the
// id in memory only; the caller never observed it, and the primary key
// rejects any accidental reuse after a restart.
func (p *Index) Insert(ctx context.Context, vector []float32) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(vector) != p.dim {
		return 0, &index.ErrDimensionMismatch{Expected: p.dim, Actual: len(vector)}
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	query := fmt.Sprintf("INSERT INTO %s (id, embedding) VALUES ($1, $2::vector)", p.table)
	if _, err := p.db.ExecContext(ctx, query, int64(id), vectorLiteral(vector)); err != nil {
		p.mu.Lock()
		p.tombstones.Add(id)
		p.mu.Unlock()
		return 0, fmt.Errorf("pgvector insert: %w", err)
	}
	return id, nil
}

type searchRow struct {
	ID       int64   `db:"id"`
	Distance float64 `db:"distance"`
}

// Search returns up to k nearest live vectors, ranked in SQL.
func (p *Index) Search(ctx context.Context, query []float32, k int) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, index.ErrInvalidK
	}
	if len(query) != p.dim {
		return nil, &index.ErrDimensionMismatch{Expected: p.dim, Actual: len(query)}
	}

	stmt := fmt.Sprintf(
		"SELECT id, embedding <-> $1::vector AS distance FROM %s WHERE NOT deleted ORDER BY embedding <-> $1::vector, id LIMIT $2",
		p.table,
	)
	var rows []searchRow
	if err := p.db.SelectContext(ctx, &rows, stmt, vectorLiteral(query), k); err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}

	results := make([]index.SearchResult, len(rows))
	for i, r := range rows {
		// <-> yields the plain L2 distance; square it to match the
		// squared metric the rest of the module ranks by.
		results[i] = index.SearchResult{
			ID:       uint64(r.ID),
			Distance: float32(r.Distance * r.Distance),
		}
	}
	return results, nil
}

// Tombstone flips the deleted flag and records the id as burned. The id
// is never reassigned.
func (p *Index) Tombstone(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if id >= p.nextID || p.tombstones.Contains(id) {
		p.mu.Unlock()
		return &index.ErrIDNotFound{ID: id}
	}
	p.tombstones.Add(id)
	p.mu.Unlock()

	stmt := fmt.Sprintf("UPDATE %s SET deleted = TRUE WHERE id = $1 AND NOT deleted", p.table)
	if _, err := p.db.ExecContext(ctx, stmt, int64(id)); err != nil {
		// The row is still live in the table; undo the mark so a retry
		// can reach it.
		p.mu.Lock()
		p.tombstones.Remove(id)
		p.mu.Unlock()
		return fmt.Errorf("pgvector delete: %w", err)
	}
	return nil
}

// Contains reports whether id refers to a live row.
func (p *Index) Contains(id uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return id < p.nextID && !p.tombstones.Contains(id)
}

// Dimension returns the fixed vector dimensionality.
func (p *Index) Dimension() int {
	return p.dim
}

// Len returns the total number of ids ever assigned, tombstoned included.
func (p *Index) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int(p.nextID)
}

// Live returns the number of non-tombstoned rows.
func (p *Index) Live() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int(p.nextID - p.tombstones.GetCardinality())
}

// Close releases the connection pool when the index opened it itself.
func (p *Index) Close() error {
	if p.owned {
		return p.db.Close()
	}
	return nil
}
