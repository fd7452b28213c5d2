package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

const (
	defaultTable     = "reviews"
	columnsPerRecord = 7
	// Postgres caps bind parameters at 65535 per statement.
	maxRecordsPerInsert = 65535 / columnsPerRecord
)

// ReviewStore implements harvest.RecordStore on a Postgres table. Uniqueness of
// (subject_id, text) is enforced by Dedupe, not by a constraint, so duplicate
// rows are tolerated while a harvest is running.
type ReviewStore struct {
	pool  pool
	table string
}

// NewReviewStore connects to Postgres using the provided config.
func NewReviewStore(ctx context.Context, cfg PoolConfig, table string) (*ReviewStore, error) {
	name, err := tableName(table, defaultTable)
	if err != nil {
		return nil, err
	}
	p, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ReviewStore{pool: p, table: name}, nil
}

// NewReviewStoreWithPool constructs a store on an existing pool.
func NewReviewStoreWithPool(p pool, table string) (*ReviewStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultTable)
	if err != nil {
		return nil, err
	}
	return &ReviewStore{pool: p, table: name}, nil
}

// Close releases the underlying pool resources.
func (s *ReviewStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *ReviewStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the review table and its subject index when missing.
func (s *ReviewStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         BIGSERIAL PRIMARY KEY,
	subject_id TEXT NOT NULL,
	text       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	location   TEXT NOT NULL DEFAULT 'None',
	date       DATE NOT NULL DEFAULT DATE '1900-01-01',
	verified   BOOLEAN NOT NULL DEFAULT FALSE,
	rating     NUMERIC(2,1) NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_subject_id_idx ON %[1]s (subject_id)`, s.table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Insert writes the records of one page with a multi-row INSERT.
func (s *ReviewStore) Insert(ctx context.Context, records []harvest.Record) error {
	for start := 0; start < len(records); start += maxRecordsPerInsert {
		end := min(start+maxRecordsPerInsert, len(records))
		query, args := s.insertStatement(records[start:end])
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert reviews: %w", err)
		}
	}
	return nil
}

func (s *ReviewStore) insertStatement(records []harvest.Record) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (subject_id, text, title, location, date, verified, rating) VALUES ", s.table)
	args := make([]any, 0, len(records)*columnsPerRecord)
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * columnsPerRecord
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, r.SubjectID, r.Text, r.Title, r.Location, r.Date, r.Verified, r.Rating)
	}
	return b.String(), args
}

// Dedupe deletes every row of subjectID whose text matches an earlier row,
// inside a read-committed transaction.
func (s *ReviewStore) Dedupe(ctx context.Context, subjectID string) (removed int64, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin dedupe tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
DELETE FROM %[1]s AS dup
USING %[1]s AS keep
WHERE dup.subject_id = $1
	AND keep.subject_id = dup.subject_id
	AND keep.text = dup.text
	AND keep.id < dup.id`, s.table)
	tag, err := tx.Exec(ctx, query, subjectID)
	if err != nil {
		return 0, fmt.Errorf("delete duplicates: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit dedupe tx: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FetchAll returns every row of subjectID ordered by id.
func (s *ReviewStore) FetchAll(ctx context.Context, subjectID string) ([]harvest.StoredRecord, error) {
	query := fmt.Sprintf(`
SELECT id, subject_id, text, title, location, date, verified, rating
FROM %s
WHERE subject_id = $1
ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	out := make([]harvest.StoredRecord, 0)
	for rows.Next() {
		var r harvest.StoredRecord
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.Text, &r.Title, &r.Location, &r.Date, &r.Verified, &r.Rating); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, nil
}
