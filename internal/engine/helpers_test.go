package engine

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"profile-backend/internal/metadata"
	"profile-backend/internal/store"
)

// testCatalog mirrors a seeded secciones table plus two drifted entries:
// legacy_widget's table is gone and widget_x has no whitelist mapping.
func testCatalog() []metadata.SectionDefinition {
	return []metadata.SectionDefinition{
		{ID: 1, Name: "about"},
		{ID: 2, Name: "education", UserType: "Estudiante"},
		{ID: 5, Name: "skills", UserType: "Estudiante"},
		{ID: 7, Name: "legacy_widget"},
		{ID: 8, Name: "widget_x"},
	}
}

type testEngine struct {
	store    *store.Store
	mock     sqlmock.Sqlmock
	registry *metadata.Registry
	oracle   *SchemaOracle
	data     *SectionData
	sections *Sections
	profiles *Profiles
}

func newTestEngine(t *testing.T, concurrency int) *testEngine {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.NewFromDB(db)
	reg := metadata.NewRegistry()
	reg.Load(testCatalog())
	oracle := NewSchemaOracle(db)
	data := NewSectionData(nil)
	sections := NewSections(s, reg, oracle, data, nil)
	profiles := NewProfiles(s, reg, oracle, sections, data, concurrency, nil)

	return &testEngine{
		store: s, mock: mock, registry: reg, oracle: oracle,
		data: data, sections: sections, profiles: profiles,
	}
}

func (e *testEngine) expectProbe(table string, exists bool) {
	e.mock.ExpectQuery(`information_schema.tables`).
		WithArgs("public", table).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func (e *testEngine) expectColumns(table string, cols ...string) {
	rows := sqlmock.NewRows([]string{"column_name"})
	for _, c := range cols {
		rows.AddRow(c)
	}
	e.mock.ExpectQuery(`information_schema.columns`).
		WithArgs("public", table).
		WillReturnRows(rows)
}

func (e *testEngine) expectAboutWritable() {
	e.expectProbe("about_section_data", true)
	e.expectColumns("about_section_data", "id", "id_perfilxseccion", "headline", "resumen")
}

func (e *testEngine) expectLock(instanceID, profileID int64, sectionID int64, name string) {
	e.mock.ExpectQuery(`FROM perfilesxsecciones pxs\s+JOIN secciones s ON s.id = pxs.id_seccion\s+WHERE pxs.id = \$1 AND pxs.id_perfil = \$2\s+FOR UPDATE OF pxs`).
		WithArgs(instanceID, profileID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_perfil", "id_seccion", "orden", "visible", "nombre"}).
			AddRow(instanceID, profileID, sectionID, nil, true, name))
}

func (e *testEngine) expectLockMiss(instanceID, profileID int64) {
	e.mock.ExpectQuery(`FOR UPDATE OF pxs`).
		WithArgs(instanceID, profileID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_perfil", "id_seccion", "orden", "visible", "nombre"}))
}

func instanceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "id_perfil", "id_seccion", "orden", "visible"})
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
