//go:build integration

package engine_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"profile-backend/internal/engine"
	"profile-backend/internal/metadata"
	"profile-backend/internal/store"
)

type fixture struct {
	store    *store.Store
	registry *metadata.Registry
	oracle   *engine.SchemaOracle
	sections *engine.Sections
	profiles *engine.Profiles
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("perfiles_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.NewFromDB(db)
	require.NoError(t, s.Bootstrap(ctx, "Administrador", zap.NewNop()))
	return s
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testStore(t)

	reg := metadata.NewRegistry()
	_, err := s.DB.Exec(`INSERT INTO secciones (nombre) VALUES ('legacy_widget')`)
	require.NoError(t, err)
	require.NoError(t, metadata.LoadSections(context.Background(), s.DB, reg, nil))

	oracle := engine.NewSchemaOracle(s.DB)
	data := engine.NewSectionData(nil)
	sections := engine.NewSections(s, reg, oracle, data, nil)
	return &fixture{
		store:    s,
		registry: reg,
		oracle:   oracle,
		sections: sections,
		profiles: engine.NewProfiles(s, reg, oracle, sections, data, 4, nil),
	}
}

func (f *fixture) createProfile(t *testing.T, mail string) (userID, profileID int64) {
	t.Helper()
	require.NoError(t, f.store.DB.QueryRow(
		`INSERT INTO usuarios (tipo, nombreusuario, mail, contrasena_hash) VALUES ('Estudiante', 'u', $1, 'x') RETURNING id`,
		mail).Scan(&userID))
	require.NoError(t, f.store.DB.QueryRow(
		`INSERT INTO perfiles (idusuario, titulo) VALUES ($1, 'Dev') RETURNING id`, userID).Scan(&profileID))
	return userID, profileID
}

func (f *fixture) sectionID(t *testing.T, name string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, f.store.DB.QueryRow(`SELECT id FROM secciones WHERE nombre = $1`, name).Scan(&id))
	return id
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.DB.QueryRow(query, args...).Scan(&n))
	return n
}

func TestIntegration_SectionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, profileID := f.createProfile(t, "ana@example.com")
	aboutID := f.sectionID(t, "about")

	added, err := f.sections.Add(ctx, engine.AddSectionInput{
		ProfileID: profileID,
		SectionID: aboutID,
		Data:      engine.Record{"headline": "Backend engineer"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Backend engineer", added.Data["headline"])

	entries, err := f.sections.List(ctx, nil, profileID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "about_section_data", entries[0].Definition.Schema)
	assert.True(t, entries[0].Config.Visible)
	assert.Nil(t, entries[0].Config.Order)

	expanded, err := f.profiles.GetExpanded(ctx, profileID)
	require.NoError(t, err)
	require.Len(t, expanded.Sections, 1)
	require.Len(t, expanded.Sections[0].Data, 1)
	assert.Equal(t, "Backend engineer", expanded.Sections[0].Data[0]["headline"])

	removed, err := f.sections.Remove(ctx, added.Instance.ID, profileID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed.DataDeleted)

	expanded, err = f.profiles.GetExpanded(ctx, profileID)
	require.NoError(t, err)
	assert.Empty(t, expanded.Sections)
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM about_section_data WHERE id_perfilxseccion = $1`, added.Instance.ID))
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM perfilesxsecciones WHERE id = $1`, added.Instance.ID))
}

func TestIntegration_CrossProfileWritesAreNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, ownerProfile := f.createProfile(t, "owner@example.com")
	_, otherProfile := f.createProfile(t, "other@example.com")

	added, err := f.sections.Add(ctx, engine.AddSectionInput{
		ProfileID: ownerProfile,
		SectionID: f.sectionID(t, "about"),
		Data:      engine.Record{"headline": "Mine"},
	})
	require.NoError(t, err)

	_, err = f.sections.Update(ctx, added.Instance.ID, otherProfile, engine.SectionChanges{
		Data: engine.Record{"headline": "Hacked"},
	})
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = f.sections.Remove(ctx, added.Instance.ID, otherProfile)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	var headline string
	require.NoError(t, f.store.DB.QueryRow(
		`SELECT headline FROM about_section_data WHERE id_perfilxseccion = $1`, added.Instance.ID).Scan(&headline))
	assert.Equal(t, "Mine", headline)
}

func TestIntegration_DroppedTableDegradesReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, profileID := f.createProfile(t, "drift@example.com")

	_, err := f.store.DB.Exec(`CREATE TABLE legacy_widget_section_data (
		id BIGSERIAL PRIMARY KEY,
		id_perfilxseccion BIGINT NOT NULL REFERENCES perfilesxsecciones(id),
		etiqueta TEXT)`)
	require.NoError(t, err)

	added, err := f.sections.Add(ctx, engine.AddSectionInput{
		ProfileID: profileID,
		SectionID: f.sectionID(t, "legacy_widget"),
		Data:      engine.Record{"etiqueta": "old"},
	})
	require.NoError(t, err)

	_, err = f.store.DB.Exec(`DROP TABLE legacy_widget_section_data`)
	require.NoError(t, err)
	f.oracle.Invalidate(ctx, "legacy_widget_section_data")

	expanded, err := f.profiles.GetExpanded(ctx, profileID)
	require.NoError(t, err)
	require.Len(t, expanded.Sections, 1)
	assert.NotNil(t, expanded.Sections[0].Data)
	assert.Empty(t, expanded.Sections[0].Data)

	_, err = f.sections.Update(ctx, added.Instance.ID, profileID, engine.SectionChanges{
		Data: engine.Record{"etiqueta": "new"},
	})
	assert.ErrorIs(t, err, engine.ErrSchemaMissing)

	removed, err := f.sections.Remove(ctx, added.Instance.ID, profileID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed.DataDeleted)
	assert.Equal(t, int64(1), removed.LinksDeleted)
}

func TestIntegration_FailedDataInsertLeavesNoLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, profileID := f.createProfile(t, "atomic@example.com")

	_, err := f.store.DB.Exec(`ALTER TABLE about_section_data ADD CONSTRAINT headline_short CHECK (length(headline) < 5)`)
	require.NoError(t, err)

	_, err = f.sections.Add(ctx, engine.AddSectionInput{
		ProfileID: profileID,
		SectionID: f.sectionID(t, "about"),
		Data:      engine.Record{"headline": "much too long"},
	})
	require.Error(t, err)
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM perfilesxsecciones WHERE id_perfil = $1`, profileID))
}

func TestIntegration_UnknownColumnIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, profileID := f.createProfile(t, "cols@example.com")

	_, err := f.sections.Add(ctx, engine.AddSectionInput{
		ProfileID: profileID,
		SectionID: f.sectionID(t, "about"),
		Data:      engine.Record{"headline": "ok", "headline; DROP TABLE perfiles": "x"},
	})
	assert.ErrorIs(t, err, engine.ErrValidation)
	assert.True(t, f.oracle.Exists(ctx, "perfiles"))
}
