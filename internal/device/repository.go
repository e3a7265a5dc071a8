package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists one Record per backend.
type Repository interface {
	// Load returns the stored record for a backend.
	// Returns ErrRecordNotFound if none has been saved.
	Load(ctx context.Context, backend string) (*Record, error)

	// Save stores rec, replacing the previous record of the same backend.
	// Returns ErrStaleRecord if the stored revision is not older than rec's.
	Save(ctx context.Context, rec *Record) error
}

// SQLiteRepository implements Repository on the mapping_records table.
// The record body is stored as JSON.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load retrieves the record of a backend.
func (r *SQLiteRepository) Load(ctx context.Context, backend string) (*Record, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM mapping_records WHERE backend_id = ?`, backend,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying mapping record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decoding mapping record: %w", err)
	}
	rec.Backend = backend
	return &rec, nil
}

// Save upserts the record. Older revisions never overwrite newer ones.
func (r *SQLiteRepository) Save(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding mapping record: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO mapping_records (backend_id, revision, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (backend_id) DO UPDATE SET
			revision = excluded.revision,
			body = excluded.body,
			updated_at = excluded.updated_at
		WHERE mapping_records.revision < excluded.revision`,
		rec.Backend, int64(rec.Revision), string(body), rec.UpdatedAt.UTC().Format(time.RFC3339Nano), //nolint:gosec // revisions stay far below MaxInt64
	)
	if err != nil {
		return fmt.Errorf("saving mapping record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking save result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: backend %s revision %d", ErrStaleRecord, rec.Backend, rec.Revision)
	}
	return nil
}
