package topic

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists topics.
type Repository interface {
	List(ctx context.Context) ([]Topic, error)
	Save(ctx context.Context, t *Topic) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository stores topics in the topics table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a topic repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every topic ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Topic, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, model, backend_id, prompt, state, created_at, updated_at FROM topics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying topics: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var topics []Topic
	for rows.Next() {
		var (
			t                    Topic
			state                string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&t.ID, &t.Model, &t.Backend, &t.Prompt, &state, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning topic: %w", err)
		}
		t.State = State(state)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by Save
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // written by Save
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// Save inserts or replaces a topic.
func (r *SQLiteRepository) Save(ctx context.Context, t *Topic) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO topics (id, model, backend_id, prompt, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     model = excluded.model,
		     backend_id = excluded.backend_id,
		     prompt = excluded.prompt,
		     state = excluded.state,
		     updated_at = excluded.updated_at`,
		t.ID, t.Model, t.Backend, t.Prompt, string(t.State),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving topic %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes a topic.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting topic %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting topic %s: %w", id, err)
	}
	if n == 0 {
		return ErrTopicNotFound
	}
	return nil
}
