// Package audit provides access to the audit_logs table: administrative
// mapping changes and every completed voice command.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the audit log.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionRefresh  = "refresh"
	ActionDispatch = "dispatch"
)

// AuditLog represents a single audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID            string         `json:"id"`
	Action        string         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id,omitempty"`
	BackendID     string         `json:"backend_id,omitempty"`
	MappingSource string         `json:"mapping_source,omitempty"`
	Source        string         `json:"source"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Filter controls which audit logs to return.
type Filter struct {
	Action        string // optional: create, update, delete, refresh, dispatch
	EntityType    string // optional: device, vocabulary, topic, command
	EntityID      string
	BackendID     string
	MappingSource string // optional: explicit_mapping, legacy_table, default_fallback
	Limit         int    // default 50, max 200
	Offset        int
}

// ListResult contains the paginated audit log results.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository defines the interface for audit log operations.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new audit log entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if log.Source == "" {
		log.Source = "api"
	}

	var detailsJSON *string
	if log.Details != nil {
		b, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, backend_id, mapping_source, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action, log.EntityType,
		nullableString(log.EntityID), nullableString(log.BackendID), nullableString(log.MappingSource),
		log.Source, detailsJSON,
		log.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings so nullable TEXT columns stay NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit logs matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit,gocyclo // dynamic query builder: WHERE clause assembly from filter fields
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit log queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"action", filter.Action},
		{"entity_type", filter.EntityType},
		{"entity_id", filter.EntityID},
		{"backend_id", filter.BackendID},
		{"mapping_source", filter.MappingSource},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from fixed column names and ? placeholders
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed column names and ? placeholders
		`SELECT id, action, entity_type, entity_id, backend_id, mapping_source, source, details, created_at
		 FROM audit_logs %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanLog(rows *sql.Rows) (AuditLog, error) {
	var log AuditLog
	var entityID, backendID, mappingSource, detailsJSON sql.NullString
	var createdAt string

	if err := rows.Scan(&log.ID, &log.Action, &log.EntityType,
		&entityID, &backendID, &mappingSource, &log.Source, &detailsJSON, &createdAt); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}
	log.EntityID = entityID.String
	log.BackendID = backendID.String
	log.MappingSource = mappingSource.String

	if detailsJSON.Valid && detailsJSON.String != "" {
		var details map[string]any
		if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
			log.Details = details
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return AuditLog{}, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	log.CreatedAt = t
	return log, nil
}
