package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hogflow/internal/templates"
)

// TemplateRepository stores the templates created through the API. Builtin and
// directory templates live only in the registry.
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t *templates.Template) error
	ListTemplates(ctx context.Context) ([]templates.Template, error)
	GetTemplate(ctx context.Context, id string) (*templates.Template, error)
	UpdateTemplate(ctx context.Context, t *templates.Template) error
	DeleteTemplate(ctx context.Context, id string) error
}

type postgresTemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) TemplateRepository {
	return &postgresTemplateRepository{db: db}
}

func (r *postgresTemplateRepository) CreateTemplate(ctx context.Context, t *templates.Template) error {
	definition, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO hog_templates (id, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, definition, now, now)
	if err != nil {
		if cerr := conflictError(err, "template", t.ID); cerr != nil {
			return cerr
		}
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *postgresTemplateRepository) ListTemplates(ctx context.Context) ([]templates.Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT definition FROM hog_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	out := make([]templates.Template, 0)
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		t, err := decodeTemplate(definition)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (r *postgresTemplateRepository) GetTemplate(ctx context.Context, id string) (*templates.Template, error) {
	var definition []byte
	err := r.db.QueryRowContext(ctx, `SELECT definition FROM hog_templates WHERE id = $1`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %w", errNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return decodeTemplate(definition)
}

func (r *postgresTemplateRepository) UpdateTemplate(ctx context.Context, t *templates.Template) error {
	definition, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE hog_templates SET definition = $1, updated_at = $2 WHERE id = $3
	`, definition, time.Now().UTC(), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return requireRow(res, "template")
}

func (r *postgresTemplateRepository) DeleteTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM hog_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return requireRow(res, "template")
}

func decodeTemplate(definition []byte) (*templates.Template, error) {
	var t templates.Template
	if err := json.Unmarshal(definition, &t); err != nil {
		return nil, fmt.Errorf("invalid stored template: %w", err)
	}
	t.Builtin = false
	return &t, nil
}
