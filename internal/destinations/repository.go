package destinations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"hogflow/internal/filters"
	"hogflow/pkg/hog"
	"hogflow/pkg/metrics"
)

// Repository reads the configuration the destination service runs.
type Repository interface {
	GetActiveFunctions(ctx context.Context) ([]Function, error)
	GetActions(ctx context.Context) ([]filters.Action, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetActiveFunctions(ctx context.Context) ([]Function, error) {
	query := `SELECT ` + FunctionColumns + `
		FROM hog_functions
		WHERE enabled = true
		ORDER BY created_at ASC
	`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query)
	metrics.ObserveDatabaseQueryDuration("destinations", "postgresql", "get_active_functions", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery("destinations", "postgresql", "get_active_functions", "error")
		return nil, fmt.Errorf("failed to query functions: %w", err)
	}
	defer rows.Close()

	var functions []Function
	for rows.Next() {
		fn, err := ScanFunction(rows)
		if err != nil {
			return nil, err
		}
		functions = append(functions, *fn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	metrics.IncDatabaseQuery("destinations", "postgresql", "get_active_functions", "success")
	return functions, nil
}

func (r *PostgresRepository) GetActions(ctx context.Context) ([]filters.Action, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, expression FROM actions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []filters.Action
	for rows.Next() {
		var a filters.Action
		if err := rows.Scan(&a.ID, &a.Name, &a.Expression); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return actions, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// ScanFunction reads one hog_functions row selected in the column order of
// FunctionColumns.
func ScanFunction(row scanner) (*Function, error) {
	var (
		fn                               Function
		schemaJSON, inputsJSON, filtJSON []byte
	)
	if err := row.Scan(
		&fn.ID, &fn.Name, &fn.Description, &fn.TemplateID, &fn.Hog,
		&schemaJSON, &inputsJSON, &filtJSON,
		&fn.Enabled, &fn.CreatedAt, &fn.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan function: %w", err)
	}

	if err := json.Unmarshal(schemaJSON, &fn.InputsSchema); err != nil {
		return nil, fmt.Errorf("function %s: invalid inputs_schema: %w", fn.ID, err)
	}
	inputs, err := DecodeInputs(inputsJSON)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", fn.ID, err)
	}
	fn.Inputs = inputs
	if err := json.Unmarshal(filtJSON, &fn.Filters); err != nil {
		return nil, fmt.Errorf("function %s: invalid filters: %w", fn.ID, err)
	}
	return &fn, nil
}

// FunctionColumns is the select list ScanFunction expects.
const FunctionColumns = `id, name, description, template_id, hog, inputs_schema, inputs, filters, enabled, created_at, updated_at`

// DecodeInputs parses a JSON object of input values. Nested objects keep their
// key order.
func DecodeInputs(data []byte) (map[string]hog.Value, error) {
	inputs := map[string]hog.Value{}
	if len(data) == 0 {
		return inputs, nil
	}
	v, err := hog.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid inputs: %w", err)
	}
	if v.IsNull() {
		return inputs, nil
	}
	if v.Kind() != hog.KindMap {
		return nil, fmt.Errorf("invalid inputs: expected an object, got %s", v.Kind())
	}
	v.Map().Range(func(k string, val hog.Value) bool {
		inputs[k] = val
		return true
	})
	return inputs, nil
}

// EncodeInputs is the inverse of DecodeInputs. Keys are written in the order of
// the schema, unknown keys last.
func EncodeInputs(schema []string, inputs map[string]hog.Value) ([]byte, error) {
	m := hog.NewMap()
	for _, key := range schema {
		if v, ok := inputs[key]; ok {
			m.Set(key, v)
		}
	}
	var rest []string
	for key := range inputs {
		if !m.Has(key) {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		m.Set(key, inputs[key])
	}
	return json.Marshal(hog.MapValue(m))
}
