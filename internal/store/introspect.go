package store

import (
	"context"
	"fmt"
)

// DefaultSchema is the namespace section tables live in.
const DefaultSchema = "public"

// TableExists asks information_schema whether table is present. The name is
// bound as a parameter; callers still sanitize it before any later splice.
func TableExists(ctx context.Context, q Querier, schema, table string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schema, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe table %s: %w", table, MapError(err))
	}
	return exists, nil
}

// TableColumns returns the column names of table in ordinal order.
func TableColumns(ctx context.Context, q Querier, schema, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, MapError(err))
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, MapError(err))
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, MapError(err))
	}
	return cols, nil
}
