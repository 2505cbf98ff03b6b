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
	"github.com/lib/pq"

	"hogflow/internal/destinations"
	pkgerrors "hogflow/pkg/errors"
	"hogflow/pkg/metrics"
)

var errNotFound = errors.New("not found")

type Repository interface {
	CreateFunction(ctx context.Context, fn *destinations.Function) error
	ListFunctions(ctx context.Context) ([]destinations.Function, error)
	GetFunction(ctx context.Context, id string) (*destinations.Function, error)
	UpdateFunction(ctx context.Context, fn *destinations.Function) error
	DeleteFunction(ctx context.Context, id string) error

	CreateAction(ctx context.Context, action *Action) error
	ListActions(ctx context.Context) ([]Action, error)
	GetAction(ctx context.Context, id string) (*Action, error)
	UpdateAction(ctx context.Context, action *Action) error
	DeleteAction(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func observe(op string, start time.Time, err error) {
	metrics.ObserveDatabaseQueryDuration("management", "postgresql", op, time.Since(start))
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("management", "postgresql", op, status)
}

// conflictError turns a unique violation into ErrConflict.
func conflictError(err error, kind, name string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pkgerrors.ErrConflict.WithCause(err).WithMessage("%s with name '%s' already exists", kind, name)
	}
	if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint") {
		return pkgerrors.ErrConflict.WithCause(err).WithMessage("%s with name '%s' already exists", kind, name)
	}
	return nil
}

func encodeFunction(fn *destinations.Function) (schema, inputs, filt []byte, err error) {
	if schema, err = json.Marshal(fn.InputsSchema); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode inputs_schema: %w", err)
	}
	keys := make([]string, len(fn.InputsSchema))
	for i, s := range fn.InputsSchema {
		keys[i] = s.Key
	}
	if inputs, err = destinations.EncodeInputs(keys, fn.Inputs); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode inputs: %w", err)
	}
	if filt, err = json.Marshal(fn.Filters); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode filters: %w", err)
	}
	return schema, inputs, filt, nil
}

func (r *PostgresRepository) CreateFunction(ctx context.Context, fn *destinations.Function) (err error) {
	start := time.Now()
	defer func() { observe("create_function", start, err) }()

	if fn.ID == "" {
		fn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	fn.CreatedAt = now
	fn.UpdatedAt = now

	schema, inputs, filt, err := encodeFunction(fn)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO hog_functions (` + destinations.FunctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		fn.ID, fn.Name, fn.Description, fn.TemplateID, fn.Hog,
		schema, inputs, filt,
		fn.Enabled, fn.CreatedAt, fn.UpdatedAt,
	)
	if err != nil {
		if cerr := conflictError(err, "function", fn.Name); cerr != nil {
			return cerr
		}
		return fmt.Errorf("failed to create function: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListFunctions(ctx context.Context) ([]destinations.Function, error) {
	query := `SELECT ` + destinations.FunctionColumns + ` FROM hog_functions ORDER BY created_at DESC`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query)
	observe("list_functions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}
	defer rows.Close()

	functions := make([]destinations.Function, 0)
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		fn, err := destinations.ScanFunction(rows)
		if err != nil {
			return nil, err
		}
		functions = append(functions, *fn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return functions, nil
}

func (r *PostgresRepository) GetFunction(ctx context.Context, id string) (*destinations.Function, error) {
	query := `SELECT ` + destinations.FunctionColumns + ` FROM hog_functions WHERE id = $1`

	fn, err := destinations.ScanFunction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("function %w", errNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get function: %w", err)
	}
	return fn, nil
}

func (r *PostgresRepository) UpdateFunction(ctx context.Context, fn *destinations.Function) (err error) {
	start := time.Now()
	defer func() { observe("update_function", start, err) }()

	fn.UpdatedAt = time.Now().UTC()
	schema, inputs, filt, err := encodeFunction(fn)
	if err != nil {
		return err
	}

	query := `
		UPDATE hog_functions
		SET name = $1, description = $2, hog = $3, inputs_schema = $4, inputs = $5, filters = $6,
			enabled = $7, updated_at = $8
		WHERE id = $9
	`
	res, err := r.db.ExecContext(ctx, query,
		fn.Name, fn.Description, fn.Hog, schema, inputs, filt,
		fn.Enabled, fn.UpdatedAt, fn.ID,
	)
	if err != nil {
		if cerr := conflictError(err, "function", fn.Name); cerr != nil {
			return cerr
		}
		return fmt.Errorf("failed to update function: %w", err)
	}
	return requireRow(res, "function")
}

func (r *PostgresRepository) DeleteFunction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM hog_functions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete function: %w", err)
	}
	return requireRow(res, "function")
}

func (r *PostgresRepository) CreateAction(ctx context.Context, action *Action) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	action.CreatedAt = now
	action.UpdatedAt = now

	query := `
		INSERT INTO actions (id, name, description, expression, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		action.ID, action.Name, action.Description, action.Expression, action.CreatedAt, action.UpdatedAt,
	)
	if err != nil {
		if cerr := conflictError(err, "action", action.Name); cerr != nil {
			return cerr
		}
		return fmt.Errorf("failed to create action: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActions(ctx context.Context) ([]Action, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, expression, created_at, updated_at
		FROM actions
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]Action, 0)
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Expression, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return actions, nil
}

func (r *PostgresRepository) GetAction(ctx context.Context, id string) (*Action, error) {
	var a Action
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, expression, created_at, updated_at
		FROM actions
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.Description, &a.Expression, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %w", errNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return &a, nil
}

func (r *PostgresRepository) UpdateAction(ctx context.Context, action *Action) error {
	action.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE actions
		SET name = $1, description = $2, expression = $3, updated_at = $4
		WHERE id = $5
	`, action.Name, action.Description, action.Expression, action.UpdatedAt, action.ID)
	if err != nil {
		if cerr := conflictError(err, "action", action.Name); cerr != nil {
			return cerr
		}
		return fmt.Errorf("failed to update action: %w", err)
	}
	return requireRow(res, "action")
}

func (r *PostgresRepository) DeleteAction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM actions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete action: %w", err)
	}
	return requireRow(res, "action")
}

func requireRow(res sql.Result, kind string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s %w", kind, errNotFound)
	}
	return nil
}
