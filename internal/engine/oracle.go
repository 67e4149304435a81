package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"profile-backend/internal/cache"
	"profile-backend/internal/instrument"
	"profile-backend/internal/store"
)

// VerifiedTable is a section table that passed the identifier check and a
// live existence probe. Only the oracle constructs one; the data accessor
// accepts nothing else.
type VerifiedTable struct {
	name    string
	quoted  string
	columns map[string]bool
}

func (t VerifiedTable) Name() string { return t.name }

// Writable reports whether the column set was loaded.
func (t VerifiedTable) Writable() bool { return t.columns != nil }

func (t VerifiedTable) HasColumn(name string) bool { return t.columns[name] }

// SchemaOracle answers whether a section table exists in the live database.
type SchemaOracle struct {
	db     store.Querier
	schema string
	cache  cache.Cache
	ttl    time.Duration
	log    *zap.Logger
}

type OracleOption func(*SchemaOracle)

// WithOracleCache caches probe results for ttl. A zero ttl disables caching.
func WithOracleCache(c cache.Cache, ttl time.Duration) OracleOption {
	return func(o *SchemaOracle) {
		o.cache = c
		o.ttl = ttl
	}
}

func WithOracleLogger(log *zap.Logger) OracleOption {
	return func(o *SchemaOracle) {
		if log != nil {
			o.log = log
		}
	}
}

func WithOracleSchema(schema string) OracleOption {
	return func(o *SchemaOracle) {
		o.schema = schema
	}
}

func NewSchemaOracle(db store.Querier, opts ...OracleOption) *SchemaOracle {
	o := &SchemaOracle{db: db, schema: store.DefaultSchema, log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Exists reports whether table is present. It fails closed: an invalid
// name or a failed probe both read as absent.
func (o *SchemaOracle) Exists(ctx context.Context, table string) bool {
	ok, err := o.Check(ctx, o.db, table)
	if err != nil {
		instrument.FromContext(ctx, o.log).Warn("schema probe failed, treating table as absent",
			zap.String("table", table), zap.Error(err))
		return false
	}
	return ok
}

// Check is Exists with the failure surfaced. Write paths use it so a probe
// error is never mistaken for a missing table.
func (o *SchemaOracle) Check(ctx context.Context, q store.Querier, table string) (bool, error) {
	if err := store.CheckIdentifier(table, true); err != nil {
		return false, err
	}
	if q == nil {
		q = o.db
	}

	key := "exists:" + table
	if v, ok := o.cached(ctx, key); ok {
		return v == "1", nil
	}

	exists, err := store.TableExists(ctx, q, o.schema, table)
	if err != nil {
		return false, storageError("probe schema", err)
	}

	v := "0"
	if exists {
		v = "1"
	}
	o.remember(ctx, key, v)
	return exists, nil
}

// Columns returns the column names of table in ordinal order.
func (o *SchemaOracle) Columns(ctx context.Context, q store.Querier, table string) ([]string, error) {
	if err := store.CheckIdentifier(table, true); err != nil {
		return nil, err
	}
	if q == nil {
		q = o.db
	}

	key := "columns:" + table
	if v, ok := o.cached(ctx, key); ok && v != "" {
		return strings.Split(v, ","), nil
	}

	cols, err := store.TableColumns(ctx, q, o.schema, table)
	if err != nil {
		return nil, storageError("load columns", err)
	}
	if len(cols) > 0 {
		o.remember(ctx, key, strings.Join(cols, ","))
	}
	return cols, nil
}

// Verify runs both gates on table and returns the handle the data accessor
// needs. Read verification treats a failed probe as ErrSchemaMissing. Write
// verification surfaces probe failures and loads the column set.
func (o *SchemaOracle) Verify(ctx context.Context, q store.Querier, table string, forWrite bool) (VerifiedTable, error) {
	quoted, err := store.QuoteIdentifier(table)
	if err != nil {
		return VerifiedTable{}, err
	}

	exists, err := o.Check(ctx, q, table)
	if err != nil {
		if forWrite {
			return VerifiedTable{}, err
		}
		instrument.FromContext(ctx, o.log).Warn("schema probe failed, treating table as absent",
			zap.String("table", table), zap.Error(err))
		exists = false
	}
	if !exists {
		return VerifiedTable{}, fmt.Errorf("%w: %s", ErrSchemaMissing, table)
	}

	vt := VerifiedTable{name: table, quoted: quoted}
	if !forWrite {
		return vt, nil
	}

	cols, err := o.Columns(ctx, q, table)
	if err != nil {
		return VerifiedTable{}, err
	}
	if len(cols) == 0 {
		return VerifiedTable{}, fmt.Errorf("%w: %s has no columns", ErrSchemaMissing, table)
	}
	vt.columns = make(map[string]bool, len(cols))
	for _, c := range cols {
		vt.columns[c] = true
	}
	return vt, nil
}

// Invalidate drops cached probe results for tables.
func (o *SchemaOracle) Invalidate(ctx context.Context, tables ...string) {
	if o.cache == nil || len(tables) == 0 {
		return
	}
	keys := make([]string, 0, 2*len(tables))
	for _, t := range tables {
		keys = append(keys, "exists:"+t, "columns:"+t)
	}
	if err := o.cache.Delete(ctx, keys...); err != nil {
		o.log.Warn("oracle cache invalidation failed", zap.Error(err))
	}
}

func (o *SchemaOracle) cached(ctx context.Context, key string) (string, bool) {
	if o.cache == nil || o.ttl <= 0 {
		return "", false
	}
	v, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.log.Debug("oracle cache read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (o *SchemaOracle) remember(ctx context.Context, key, value string) {
	if o.cache == nil || o.ttl <= 0 {
		return
	}
	if err := o.cache.Set(ctx, key, value, o.ttl); err != nil {
		o.log.Debug("oracle cache write failed", zap.String("key", key), zap.Error(err))
	}
}
