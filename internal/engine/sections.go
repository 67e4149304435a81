package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"profile-backend/internal/instrument"
	"profile-backend/internal/metadata"
	"profile-backend/internal/store"
)

// SectionInstance is a perfilesxsecciones row: one section type enabled on
// one profile.
type SectionInstance struct {
	ID        int64 `json:"id"`
	ProfileID int64 `json:"id_perfil"`
	SectionID int64 `json:"id_seccion"`
	Order     *int  `json:"orden"`
	Visible   bool  `json:"visible"`
}

// SectionEntry pairs an instance with its catalog definition.
type SectionEntry struct {
	Definition metadata.SectionDefinition `json:"seccion"`
	Config     SectionInstance            `json:"config"`
}

type AddSectionInput struct {
	ProfileID int64
	SectionID int64
	Order     *int
	Visible   *bool // nil means visible
	Data      Record
	// UserType, when set, must match the definition's user type.
	UserType string
}

type AddedSection struct {
	Instance SectionInstance `json:"config"`
	Data     Record          `json:"datos,omitempty"`
}

// SectionChanges holds the requested mutations. Order sets the position,
// ClearOrder resets it to NULL.
type SectionChanges struct {
	Order      *int
	ClearOrder bool
	Visible    *bool
	Data       Record
}

type UpdatedSection struct {
	Instance SectionInstance `json:"config"`
	Data     []Record        `json:"datos"`
}

type RemovedSection struct {
	InstanceID   int64 `json:"id"`
	DataDeleted  int64 `json:"datos_eliminados"`
	LinksDeleted int64 `json:"enlaces_eliminados"`
}

// Sections manages section instances and their data. Every mutation runs
// in one transaction spanning the link and the data rows.
type Sections struct {
	store    *store.Store
	registry *metadata.Registry
	oracle   *SchemaOracle
	data     *SectionData
	log      *zap.Logger
}

func NewSections(s *store.Store, reg *metadata.Registry, oracle *SchemaOracle, data *SectionData, log *zap.Logger) *Sections {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sections{store: s, registry: reg, oracle: oracle, data: data, log: log}
}

const instanceColumns = `id, id_perfil, id_seccion, orden, visible`

// Add enables a section on a profile and, when Data is set, stores its
// first record. Both writes commit together or not at all.
func (s *Sections) Add(ctx context.Context, in AddSectionInput) (*AddedSection, error) {
	if in.ProfileID <= 0 {
		return nil, invalidField("id_perfil", "gt", "must be a positive id")
	}
	if in.SectionID <= 0 {
		return nil, invalidField("id_seccion", "gt", "must be a positive id")
	}
	visible := true
	if in.Visible != nil {
		visible = *in.Visible
	}

	var out AddedSection
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := lockProfile(ctx, tx, in.ProfileID); err != nil {
			return err
		}

		def, err := loadDefinition(ctx, tx, in.SectionID)
		if err != nil {
			return err
		}
		if in.UserType != "" && !def.AppliesTo(in.UserType) {
			return invalidField("id_seccion", "user_type",
				fmt.Sprintf("section %s is not available for %s", def.Name, in.UserType))
		}

		var vt VerifiedTable
		if len(in.Data) > 0 {
			vt, err = s.writableTarget(ctx, tx, def.Name, in.Data, true)
			if err != nil {
				return err
			}
		}

		inst, err := scanInstance(tx.QueryRowContext(ctx,
			`INSERT INTO perfilesxsecciones (id_perfil, id_seccion, orden, visible) VALUES ($1, $2, $3, $4) RETURNING `+instanceColumns,
			in.ProfileID, in.SectionID, nullableOrder(in.Order), visible))
		if err != nil {
			return storageError("insert section link", err)
		}
		out.Instance = inst

		if len(in.Data) > 0 {
			row, err := s.data.InsertData(ctx, tx, vt, inst.ID, in.Data)
			if err != nil {
				return err
			}
			out.Data = row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	instrument.FromContext(ctx, s.log).Info("section added",
		zap.Int64("profile_id", in.ProfileID), zap.Int64("section_id", in.SectionID),
		zap.Int64("instance_id", out.Instance.ID))
	return &out, nil
}

// Update changes an instance owned by profileID. A missing instance and
// one owned by another profile are both ErrNotFound. Data sent to an
// instance that has no data record yet creates the record.
func (s *Sections) Update(ctx context.Context, instanceID, profileID int64, ch SectionChanges) (*UpdatedSection, error) {
	if instanceID <= 0 || profileID <= 0 {
		return nil, ErrNotFound
	}

	var out UpdatedSection
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		inst, name, err := lockInstance(ctx, tx, instanceID, profileID)
		if err != nil {
			return err
		}
		out.Instance = inst
		out.Data = []Record{}

		var vt VerifiedTable
		if len(ch.Data) > 0 {
			vt, err = s.writableTarget(ctx, tx, name, ch.Data, false)
			if err != nil {
				return err
			}
		}

		if sets, params := linkChanges(ch); len(sets) > 0 {
			params = append(params, inst.ID)
			inst, err = scanInstance(tx.QueryRowContext(ctx,
				fmt.Sprintf(`UPDATE perfilesxsecciones SET %s WHERE id = $%d RETURNING %s`,
					strings.Join(sets, ", "), len(params), instanceColumns),
				params...))
			if err != nil {
				return storageError("update section link", err)
			}
			out.Instance = inst
		}

		if len(ch.Data) > 0 {
			rows, err := s.data.UpdateData(ctx, tx, vt, inst.ID, ch.Data)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				rows, err = s.firstRecord(ctx, tx, name, vt, inst.ID, ch.Data)
				if err != nil {
					return err
				}
			}
			out.Data = rows
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes an instance owned by profileID together with its data.
// Data goes first, in the same transaction. A section whose type has no
// schema or whose table is gone has no data to delete; a failed probe
// aborts the removal.
func (s *Sections) Remove(ctx context.Context, instanceID, profileID int64) (*RemovedSection, error) {
	if instanceID <= 0 || profileID <= 0 {
		return nil, ErrNotFound
	}

	out := RemovedSection{InstanceID: instanceID}
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, name, err := lockInstance(ctx, tx, instanceID, profileID)
		if err != nil {
			return err
		}

		if table, ok := s.registry.ResolveSchemaName(name); ok {
			vt, err := s.oracle.Verify(ctx, tx, table, true)
			switch {
			case errors.Is(err, ErrSchemaMissing):
				s.log.Info("section table absent, removing link only",
					zap.String("section", name), zap.String("table", table))
			case err != nil:
				return err
			default:
				n, err := s.data.DeleteData(ctx, tx, vt, instanceID)
				if err != nil {
					return err
				}
				out.DataDeleted = n
			}
		}

		n, err := store.Exec(ctx, tx,
			`DELETE FROM perfilesxsecciones WHERE id = $1 AND id_perfil = $2`, instanceID, profileID)
		if err != nil {
			return storageError("delete section link", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		out.LinksDeleted = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	instrument.FromContext(ctx, s.log).Info("section removed",
		zap.Int64("profile_id", profileID), zap.Int64("instance_id", instanceID),
		zap.Int64("data_deleted", out.DataDeleted))
	return &out, nil
}

// List returns the profile's sections ordered by orden (nulls last), then
// definition id, then instance id. Pass nil q to use the pool.
func (s *Sections) List(ctx context.Context, q store.Querier, profileID int64) ([]SectionEntry, error) {
	if q == nil {
		q = s.store.DB
	}
	rows, err := q.QueryContext(ctx, `
		SELECT pxs.id, pxs.id_perfil, pxs.id_seccion, pxs.orden, pxs.visible,
		       s.nombre, COALESCE(s.tipo_usuario, ''), COALESCE(s.descripcion, '')
		FROM perfilesxsecciones pxs
		JOIN secciones s ON s.id = pxs.id_seccion
		WHERE pxs.id_perfil = $1
		ORDER BY pxs.orden ASC NULLS LAST, s.id ASC, pxs.id ASC`, profileID)
	if err != nil {
		return nil, storageError("list sections", store.MapError(err))
	}
	defer rows.Close()

	entries := []SectionEntry{}
	for rows.Next() {
		var e SectionEntry
		var order sql.NullInt32
		if err := rows.Scan(&e.Config.ID, &e.Config.ProfileID, &e.Config.SectionID, &order, &e.Config.Visible,
			&e.Definition.Name, &e.Definition.UserType, &e.Definition.Description); err != nil {
			return nil, storageError("scan section", store.MapError(err))
		}
		e.Config.Order = orderPtr(order)
		e.Definition.ID = e.Config.SectionID
		e.Definition.Schema, _ = s.registry.ResolveSchemaName(e.Definition.Name)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list sections", store.MapError(err))
	}

	SortEntries(entries)
	return entries, nil
}

// SortEntries orders entries by orden ascending with nulls last, then by
// definition id, then by instance id.
func SortEntries(entries []SectionEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Config.Order == nil && b.Config.Order != nil:
			return false
		case a.Config.Order != nil && b.Config.Order == nil:
			return true
		case a.Config.Order != nil && *a.Config.Order != *b.Config.Order:
			return *a.Config.Order < *b.Config.Order
		case a.Definition.ID != b.Definition.ID:
			return a.Definition.ID < b.Definition.ID
		}
		return a.Config.ID < b.Config.ID
	})
}

// writableTarget resolves a section name to a write-verified table and
// checks fields against its rules.
func (s *Sections) writableTarget(ctx context.Context, q store.Querier, sectionName string, fields Record, isCreate bool) (VerifiedTable, error) {
	target, ok := s.registry.Target(sectionName)
	if !ok {
		return VerifiedTable{}, fmt.Errorf("%w: %s has no data schema", ErrUnknownSectionType, sectionName)
	}
	vt, err := s.oracle.Verify(ctx, q, target.Table, true)
	if err != nil {
		return VerifiedTable{}, err
	}
	if errs := EvaluateRules(target.Rules, fields, isCreate); len(errs) > 0 {
		return VerifiedTable{}, errs
	}
	return vt, nil
}

// firstRecord stores the first data record of an instance that was added
// without one. The record must pass the create rules.
func (s *Sections) firstRecord(ctx context.Context, q store.Querier, sectionName string, vt VerifiedTable, instanceID int64, fields Record) ([]Record, error) {
	fields = mutableFields(vt, fields)
	if len(fields) == 0 {
		return []Record{}, nil
	}
	target, _ := s.registry.Target(sectionName)
	if errs := EvaluateRules(target.Rules, fields, true); len(errs) > 0 {
		return nil, errs
	}
	row, err := s.data.InsertData(ctx, q, vt, instanceID, fields)
	if err != nil {
		return nil, err
	}
	return []Record{row}, nil
}

func lockProfile(ctx context.Context, q store.Querier, profileID int64) error {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM perfiles WHERE id = $1 FOR SHARE`, profileID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return storageError("lock profile", store.MapError(err))
	}
	return nil
}

func loadDefinition(ctx context.Context, q store.Querier, sectionID int64) (metadata.SectionDefinition, error) {
	var d metadata.SectionDefinition
	err := q.QueryRowContext(ctx,
		`SELECT id, nombre, COALESCE(tipo_usuario, ''), COALESCE(descripcion, '') FROM secciones WHERE id = $1`,
		sectionID).Scan(&d.ID, &d.Name, &d.UserType, &d.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("%w: id %d", ErrUnknownSectionType, sectionID)
	}
	if err != nil {
		return d, storageError("load section definition", store.MapError(err))
	}
	return d, nil
}

// lockInstance loads an instance owned by profileID and holds its row lock
// until the transaction ends.
func lockInstance(ctx context.Context, q store.Querier, instanceID, profileID int64) (SectionInstance, string, error) {
	var inst SectionInstance
	var order sql.NullInt32
	var name string
	err := q.QueryRowContext(ctx, `
		SELECT pxs.id, pxs.id_perfil, pxs.id_seccion, pxs.orden, pxs.visible, s.nombre
		FROM perfilesxsecciones pxs
		JOIN secciones s ON s.id = pxs.id_seccion
		WHERE pxs.id = $1 AND pxs.id_perfil = $2
		FOR UPDATE OF pxs`, instanceID, profileID).
		Scan(&inst.ID, &inst.ProfileID, &inst.SectionID, &order, &inst.Visible, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return inst, "", ErrNotFound
	}
	if err != nil {
		return inst, "", storageError("lock section", store.MapError(err))
	}
	inst.Order = orderPtr(order)
	return inst, name, nil
}

func scanInstance(row *sql.Row) (SectionInstance, error) {
	var inst SectionInstance
	var order sql.NullInt32
	if err := row.Scan(&inst.ID, &inst.ProfileID, &inst.SectionID, &order, &inst.Visible); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inst, ErrNotFound
		}
		return inst, store.MapError(err)
	}
	inst.Order = orderPtr(order)
	return inst, nil
}

func linkChanges(ch SectionChanges) ([]string, []any) {
	var sets []string
	var params []any
	switch {
	case ch.ClearOrder:
		sets = append(sets, "orden = NULL")
	case ch.Order != nil:
		params = append(params, *ch.Order)
		sets = append(sets, fmt.Sprintf("orden = $%d", len(params)))
	}
	if ch.Visible != nil {
		params = append(params, *ch.Visible)
		sets = append(sets, fmt.Sprintf("visible = $%d", len(params)))
	}
	return sets, params
}

func nullableOrder(o *int) any {
	if o == nil {
		return nil
	}
	return *o
}

func orderPtr(o sql.NullInt32) *int {
	if !o.Valid {
		return nil
	}
	v := int(o.Int32)
	return &v
}
