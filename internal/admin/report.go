package admin

import (
	"context"

	"profile-backend/internal/engine"
	"profile-backend/internal/metadata"
)

// SectionStatus is one catalog entry checked against the live database.
type SectionStatus struct {
	ID       int64  `json:"id_seccion"`
	Name     string `json:"nombre"`
	UserType string `json:"tipo_usuario"`
	Table    string `json:"tabla,omitempty"`
	Mapped   bool   `json:"mapeada"`
	Exists   bool   `json:"existe"`
	Error    string `json:"error,omitempty"`
}

// Drifted reports whether reads of this section will degrade to empty data.
func (s SectionStatus) Drifted() bool {
	return !s.Mapped || !s.Exists
}

type Report struct {
	Sections []SectionStatus `json:"secciones"`
	Drifted  int             `json:"con_desvio"`
}

// BuildReport probes the table of every catalog entry. Probes bypass the
// oracle cache so the report reflects the database right now.
func BuildReport(ctx context.Context, reg *metadata.Registry, oracle *engine.SchemaOracle) Report {
	oracle.Invalidate(ctx, reg.Tables()...)

	defs := reg.All()
	report := Report{Sections: make([]SectionStatus, 0, len(defs))}
	for _, d := range defs {
		st := SectionStatus{ID: d.ID, Name: d.Name, UserType: d.UserType, Table: d.Schema, Mapped: d.Schema != ""}
		if st.Mapped {
			exists, err := oracle.Check(ctx, nil, d.Schema)
			if err != nil {
				st.Error = err.Error()
			}
			st.Exists = exists
		}
		if st.Drifted() {
			report.Drifted++
		}
		report.Sections = append(report.Sections, st)
	}
	return report
}
