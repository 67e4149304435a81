package metadata

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"profile-backend/internal/store"
)

// LoadSections reads the catalog from secciones into reg.
func LoadSections(ctx context.Context, q store.Querier, reg *Registry, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, nombre, COALESCE(tipo_usuario, ''), COALESCE(descripcion, '') FROM secciones ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load sections: %w", store.MapError(err))
	}
	defer rows.Close()

	var defs []SectionDefinition
	for rows.Next() {
		var d SectionDefinition
		if err := rows.Scan(&d.ID, &d.Name, &d.UserType, &d.Description); err != nil {
			return fmt.Errorf("scan section row: %w", store.MapError(err))
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load sections: %w", store.MapError(err))
	}

	reg.Load(defs)

	for _, d := range reg.Unmapped() {
		log.Warn("section has no whitelisted schema, its data will read as empty",
			zap.Int64("section_id", d.ID), zap.String("section", d.Name))
	}
	log.Info("loaded section catalog", zap.Int("sections", len(defs)))
	return nil
}
