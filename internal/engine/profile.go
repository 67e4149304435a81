package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"profile-backend/internal/instrument"
	"profile-backend/internal/metadata"
	"profile-backend/internal/store"
)

const (
	ColumnOwner = "idusuario"

	DefaultPerPage = 25
	MaxPerPage     = 100
)

// ExpandedSection is a section entry with its data rows.
type ExpandedSection struct {
	Definition metadata.SectionDefinition `json:"seccion"`
	Config     SectionInstance            `json:"config"`
	Data       []Record                   `json:"datos"`
}

// ExpandedProfile is a profile with its sections inlined. The owning user
// id is kept out of Attributes and never serialized.
type ExpandedProfile struct {
	ID         int64
	OwnerID    int64
	Attributes Record
	Sections   []ExpandedSection
}

// MarshalJSON flattens the profile attributes next to "secciones".
func (p ExpandedProfile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Attributes)+1)
	for k, v := range p.Attributes {
		out[k] = v
	}
	delete(out, ColumnOwner)
	sections := p.Sections
	if sections == nil {
		sections = []ExpandedSection{}
	}
	out["secciones"] = sections
	return json.Marshal(out)
}

// VisibleOnly drops hidden sections, for views by anyone but the owner.
func (p ExpandedProfile) VisibleOnly() ExpandedProfile {
	visible := make([]ExpandedSection, 0, len(p.Sections))
	for _, s := range p.Sections {
		if s.Config.Visible {
			visible = append(visible, s)
		}
	}
	p.Sections = visible
	return p
}

type Page[T any] struct {
	Data    []T `json:"data"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

// Profiles assembles profile views. Section reads run concurrently and a
// failing section only empties its own data.
type Profiles struct {
	store       *store.Store
	registry    *metadata.Registry
	oracle      *SchemaOracle
	sections    *Sections
	data        *SectionData
	concurrency int
	log         *zap.Logger
}

func NewProfiles(s *store.Store, reg *metadata.Registry, oracle *SchemaOracle, sections *Sections, data *SectionData, concurrency int, log *zap.Logger) *Profiles {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Profiles{
		store: s, registry: reg, oracle: oracle, sections: sections, data: data,
		concurrency: concurrency, log: log,
	}
}

// Get returns the profile row without its sections or owner.
func (p *Profiles) Get(ctx context.Context, profileID int64) (Record, error) {
	if profileID <= 0 {
		return nil, ErrNotFound
	}
	row, err := store.QueryRow(ctx, p.store.DB, `SELECT * FROM perfiles WHERE id = $1`, profileID)
	if err != nil {
		return nil, storageError("get profile", err)
	}
	delete(row, ColumnOwner)
	return row, nil
}

// GetExpanded returns the profile with every section and its data.
func (p *Profiles) GetExpanded(ctx context.Context, profileID int64) (*ExpandedProfile, error) {
	if profileID <= 0 {
		return nil, ErrNotFound
	}
	row, err := store.QueryRow(ctx, p.store.DB, `SELECT * FROM perfiles WHERE id = $1`, profileID)
	if err != nil {
		return nil, storageError("get profile", err)
	}
	return p.expand(ctx, row)
}

// GetExpandedByUser is GetExpanded keyed by the owning user.
func (p *Profiles) GetExpandedByUser(ctx context.Context, userID int64) (*ExpandedProfile, error) {
	if userID <= 0 {
		return nil, ErrNotFound
	}
	row, err := store.QueryRow(ctx, p.store.DB, `SELECT * FROM perfiles WHERE idusuario = $1`, userID)
	if err != nil {
		return nil, storageError("get profile by user", err)
	}
	return p.expand(ctx, row)
}

// ProfileIDForUser returns the id of the profile owned by userID.
func (p *Profiles) ProfileIDForUser(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, ErrNotFound
	}
	var id int64
	row, err := store.QueryRow(ctx, p.store.DB, `SELECT id FROM perfiles WHERE idusuario = $1`, userID)
	if err != nil {
		return 0, storageError("get profile id", err)
	}
	id, _ = toInt64(row["id"])
	return id, nil
}

// List returns one page of profiles without sections.
func (p *Profiles) List(ctx context.Context, page, perPage int) (*Page[Record], error) {
	page, perPage = normalizePage(page, perPage)

	rows, total, err := p.listRows(ctx, page, perPage)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		delete(r, ColumnOwner)
	}
	return &Page[Record]{Data: rows, Page: page, PerPage: perPage, Total: total}, nil
}

// ListExpanded returns one page of profiles with their visible sections.
func (p *Profiles) ListExpanded(ctx context.Context, page, perPage int) (*Page[ExpandedProfile], error) {
	page, perPage = normalizePage(page, perPage)

	rows, total, err := p.listRows(ctx, page, perPage)
	if err != nil {
		return nil, err
	}
	out := make([]ExpandedProfile, 0, len(rows))
	for _, r := range rows {
		ep, err := p.expand(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, ep.VisibleOnly())
	}
	return &Page[ExpandedProfile]{Data: out, Page: page, PerPage: perPage, Total: total}, nil
}

func (p *Profiles) listRows(ctx context.Context, page, perPage int) ([]Record, int, error) {
	countRow, err := store.QueryRow(ctx, p.store.DB, `SELECT COUNT(*) AS count FROM perfiles`)
	if err != nil {
		return nil, 0, storageError("count profiles", err)
	}
	total, _ := toInt64(countRow["count"])

	rows, err := store.QueryRows(ctx, p.store.DB,
		`SELECT * FROM perfiles ORDER BY id ASC LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, storageError("list profiles", err)
	}
	return rows, int(total), nil
}

func (p *Profiles) expand(ctx context.Context, row Record) (*ExpandedProfile, error) {
	id, ok := toInt64(row["id"])
	if !ok {
		return nil, fmt.Errorf("%w: profile row without id", ErrStorage)
	}
	owner, _ := toInt64(row[ColumnOwner])

	attrs := make(Record, len(row))
	for k, v := range row {
		if k != ColumnOwner {
			attrs[k] = v
		}
	}

	entries, err := p.sections.List(ctx, p.store.DB, id)
	if err != nil {
		return nil, err
	}

	expanded := make([]ExpandedSection, len(entries))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			expanded[i] = ExpandedSection{
				Definition: e.Definition,
				Config:     e.Config,
				Data:       p.sectionData(ctx, e),
			}
			return nil
		})
	}
	_ = g.Wait()

	return &ExpandedProfile{ID: id, OwnerID: owner, Attributes: attrs, Sections: expanded}, nil
}

// sectionData never fails: every problem reads as an empty section.
func (p *Profiles) sectionData(ctx context.Context, e SectionEntry) []Record {
	log := instrument.FromContext(ctx, p.log).With(zap.String("section", e.Definition.Name), zap.Int64("instance_id", e.Config.ID))

	table, ok := p.registry.ResolveSchemaName(e.Definition.Name)
	if !ok {
		log.Debug("section has no whitelisted schema")
		return []Record{}
	}
	vt, err := p.oracle.Verify(ctx, p.store.DB, table, false)
	if err != nil {
		log.Warn("section table unavailable, returning empty data", zap.String("table", table), zap.Error(err))
		return []Record{}
	}
	return p.data.ListData(ctx, p.store.DB, vt, e.Config.ID)
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
