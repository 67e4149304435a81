package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"profile-backend/internal/instrument"
	"profile-backend/internal/store"
)

// Record is one row of section data keyed by column name.
type Record = map[string]any

const (
	ColumnID          = "id"
	ColumnInstanceRef = "id_perfilxseccion"
)

// SectionData reads and writes rows of a verified section table, always
// scoped to one section instance.
type SectionData struct {
	log *zap.Logger
}

func NewSectionData(log *zap.Logger) *SectionData {
	if log == nil {
		log = zap.NewNop()
	}
	return &SectionData{log: log}
}

// ListData returns the instance's rows ordered by primary key. Failures
// degrade to an empty slice and are logged; the result is never nil.
func (d *SectionData) ListData(ctx context.Context, q store.Querier, t VerifiedTable, instanceID int64) []Record {
	if t.quoted == "" {
		return []Record{}
	}
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 ORDER BY %s ASC",
		t.quoted, quoted(ColumnInstanceRef), quoted(ColumnID))

	rows, err := store.QueryRows(ctx, q, sqlStr, instanceID)
	if err != nil {
		instrument.FromContext(ctx, d.log).Warn("section data read failed, returning empty",
			zap.String("table", t.name), zap.Int64("instance_id", instanceID), zap.Error(err))
		return []Record{}
	}
	return rows
}

// InsertData stores one row for the instance. The primary key and the
// instance back-reference cannot be supplied, nor can columns the table
// does not have.
func (d *SectionData) InsertData(ctx context.Context, q store.Querier, t VerifiedTable, instanceID int64, fields Record) (Record, error) {
	if !t.Writable() {
		return nil, fmt.Errorf("%w: %s not verified for write", ErrSchemaMissing, t.name)
	}

	var verrs ValidationErrors
	for _, name := range sortedKeys(fields) {
		switch {
		case name == ColumnID || name == ColumnInstanceRef:
			verrs = append(verrs, ErrorDetail{Field: name, Rule: "protected", Message: "field cannot be set"})
		case !t.HasColumn(name):
			verrs = append(verrs, ErrorDetail{Field: name, Rule: "unknown_column", Message: "unknown field"})
		}
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	cols := append([]string{ColumnInstanceRef}, sortedKeys(fields)...)
	quotedCols, err := store.QuoteIdentifiers(cols)
	if err != nil {
		return nil, err
	}

	params := make([]any, 0, len(cols))
	params = append(params, instanceID)
	placeholders := make([]string, len(cols))
	placeholders[0] = "$1"
	for i, name := range cols[1:] {
		v, err := store.Param(fields[name])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrValidation, name, err)
		}
		params = append(params, v)
		placeholders[i+1] = fmt.Sprintf("$%d", i+2)
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		t.quoted, strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))

	row, err := store.QueryRow(ctx, q, sqlStr, params...)
	if err != nil {
		return nil, storageError("insert section data", err)
	}
	return row, nil
}

// UpdateData applies the known, non-protected fields to every row of the
// instance. With nothing applicable it returns an empty result without
// touching storage.
func (d *SectionData) UpdateData(ctx context.Context, q store.Querier, t VerifiedTable, instanceID int64, fields Record) ([]Record, error) {
	if !t.Writable() {
		return nil, fmt.Errorf("%w: %s not verified for write", ErrSchemaMissing, t.name)
	}

	cols := sortedKeys(mutableFields(t, fields))
	if len(cols) == 0 {
		return []Record{}, nil
	}

	quotedCols, err := store.QuoteIdentifiers(cols)
	if err != nil {
		return nil, err
	}

	sets := make([]string, len(cols))
	params := make([]any, 0, len(cols)+1)
	for i, name := range cols {
		v, err := store.Param(fields[name])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrValidation, name, err)
		}
		params = append(params, v)
		sets[i] = fmt.Sprintf("%s = $%d", quotedCols[i], i+1)
	}
	params = append(params, instanceID)

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		t.quoted, strings.Join(sets, ", "), quoted(ColumnInstanceRef), len(params))

	rows, err := store.QueryRows(ctx, q, sqlStr, params...)
	if err != nil {
		return nil, storageError("update section data", err)
	}
	return rows, nil
}

// DeleteData removes every row of the instance and reports how many.
func (d *SectionData) DeleteData(ctx context.Context, q store.Querier, t VerifiedTable, instanceID int64) (int64, error) {
	if t.quoted == "" {
		return 0, fmt.Errorf("%w: table not verified", ErrSchemaMissing)
	}
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", t.quoted, quoted(ColumnInstanceRef))
	n, err := store.Exec(ctx, q, sqlStr, instanceID)
	if err != nil {
		return 0, storageError("delete section data", err)
	}
	return n, nil
}

// mutableFields keeps the fields the table has, minus the protected ones.
func mutableFields(t VerifiedTable, fields Record) Record {
	out := make(Record, len(fields))
	for name, v := range fields {
		if name == ColumnID || name == ColumnInstanceRef || !t.HasColumn(name) {
			continue
		}
		out[name] = v
	}
	return out
}

// quoted is for the fixed column names above; they always pass the check.
func quoted(col string) string {
	q, err := store.QuoteIdentifier(col)
	if err != nil {
		panic(err)
	}
	return q
}

func sortedKeys(m Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
