package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity types recorded in the change history.
const (
	EntityFunction = "hog_function"
	EntityTemplate = "template"
	EntityAction   = "action"
)

// Version is an entity as it stood after a change. Functions are stored
// through their masked view, so snapshots never hold secret input values.
type Version struct {
	EntityID   string          `json:"entity_id"`
	EntityType string          `json:"entity_type"`
	Number     int             `json:"version"`
	Snapshot   json.RawMessage `json:"snapshot" swaggertype:"object"`
	ChangedBy  string          `json:"changed_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AuditEntry struct {
	ID         string                 `json:"id"`
	EntityID   string                 `json:"entity_id"`
	EntityType string                 `json:"entity_type"`
	Action     string                 `json:"action"`
	Version    int                    `json:"version,omitempty"`
	Before     map[string]interface{} `json:"before,omitempty"`
	After      map[string]interface{} `json:"after,omitempty"`
	ChangedBy  string                 `json:"changed_by,omitempty"`
	ClientIP   string                 `json:"client_ip,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Change describes one mutation. After is nil for deletions, which are
// audited without a new version.
type Change struct {
	EntityType string
	EntityID   string
	Action     string
	Before     map[string]interface{}
	After      interface{}
	ChangedBy  string
	ClientIP   string
}

type AuditFilter struct {
	EntityID   string
	EntityType string
	Limit      int
}

type HistoryRepository interface {
	// Record stores the next version of the entity and its audit entry in one
	// transaction.
	Record(ctx context.Context, change Change) (*AuditEntry, error)
	Versions(ctx context.Context, entityID string) ([]Version, error)
	// Version returns nil when the entity has no such version.
	Version(ctx context.Context, entityID string, number int) (*Version, error)
	AuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// snapshot renders v as JSON and as a generic map for audit entries.
func snapshot(v interface{}) (json.RawMessage, map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, err
	}
	return data, m, nil
}

type postgresHistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) HistoryRepository {
	return &postgresHistoryRepository{db: db}
}

func (r *postgresHistoryRepository) Record(ctx context.Context, change Change) (*AuditEntry, error) {
	entry := &AuditEntry{
		ID:         uuid.NewString(),
		EntityID:   change.EntityID,
		EntityType: change.EntityType,
		Action:     change.Action,
		Before:     change.Before,
		ChangedBy:  change.ChangedBy,
		ClientIP:   change.ClientIP,
		Timestamp:  time.Now().UTC(),
	}

	var snap json.RawMessage
	if change.After != nil {
		var err error
		if snap, entry.After, err = snapshot(change.After); err != nil {
			return nil, fmt.Errorf("failed to snapshot %s %s: %w", change.EntityType, change.EntityID, err)
		}
	}
	before, err := nullableJSON(entry.Before)
	if err != nil {
		return nil, err
	}
	after, err := nullableJSON(entry.After)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if snap != nil {
		// The unique (entity_id, version) key rejects a concurrent writer
		// that computed the same number.
		err := tx.QueryRowContext(ctx, `
			INSERT INTO entity_versions (entity_id, entity_type, version, snapshot, changed_by, created_at)
			SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5
			FROM entity_versions WHERE entity_id = $1
			RETURNING version`,
			change.EntityID, change.EntityType, string(snap), change.ChangedBy, entry.Timestamp,
		).Scan(&entry.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to create version: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, entity_id, entity_type, action, version, before, after, changed_by, client_ip, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.EntityID, entry.EntityType, entry.Action, entry.Version,
		before, after, entry.ChangedBy, entry.ClientIP, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit change: %w", err)
	}
	return entry, nil
}

// nullableJSON returns m as a JSON string, or a nil interface so the column
// is stored as NULL.
func nullableJSON(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit value: %w", err)
	}
	return string(data), nil
}

const versionColumns = `entity_id, entity_type, version, snapshot, changed_by, created_at`

func scanVersion(row interface{ Scan(...interface{}) error }) (Version, error) {
	var v Version
	var snap []byte
	err := row.Scan(&v.EntityID, &v.EntityType, &v.Number, &snap, &v.ChangedBy, &v.CreatedAt)
	v.Snapshot = snap
	return v, err
}

func (r *postgresHistoryRepository) Versions(ctx context.Context, entityID string) ([]Version, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM entity_versions WHERE entity_id = $1 ORDER BY version DESC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions := make([]Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *postgresHistoryRepository) Version(ctx context.Context, entityID string, number int) (*Version, error) {
	v, err := scanVersion(r.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM entity_versions WHERE entity_id = $1 AND version = $2`, entityID, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return &v, nil
}

func (r *postgresHistoryRepository) AuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	var where []string
	var args []interface{}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}

	query := `SELECT id, entity_id, entity_type, action, version, before, after, changed_by, client_ip, timestamp FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.EntityID, &e.EntityType, &e.Action, &e.Version,
			&before, &after, &e.ChangedBy, &e.ClientIP, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(before) > 0 {
			if err := json.Unmarshal(before, &e.Before); err != nil {
				return nil, fmt.Errorf("failed to decode audit entry %s: %w", e.ID, err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &e.After); err != nil {
				return nil, fmt.Errorf("failed to decode audit entry %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
