package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// devTablesSQL provisions the layout the engine expects. Production databases
// are provisioned out-of-band; this exists for local runs and integration tests.
const devTablesSQL = `
CREATE TABLE IF NOT EXISTS usuarios (
    id              BIGSERIAL PRIMARY KEY,
    tipo            TEXT NOT NULL,
    nombreusuario   TEXT NOT NULL,
    mail            TEXT NOT NULL UNIQUE,
    contrasena_hash TEXT NOT NULL,
    fecharegistro   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS perfiles (
    id          BIGSERIAL PRIMARY KEY,
    idusuario   BIGINT NOT NULL UNIQUE REFERENCES usuarios(id),
    titulo      TEXT,
    descripcion TEXT,
    foto        TEXT
);

CREATE TABLE IF NOT EXISTS secciones (
    id           BIGSERIAL PRIMARY KEY,
    nombre       TEXT NOT NULL UNIQUE,
    tipo_usuario TEXT NOT NULL DEFAULT '',
    descripcion  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS perfilesxsecciones (
    id         BIGSERIAL PRIMARY KEY,
    id_perfil  BIGINT NOT NULL REFERENCES perfiles(id),
    id_seccion BIGINT NOT NULL REFERENCES secciones(id),
    orden      INT,
    visible    BOOLEAN NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS idx_perfilesxsecciones_perfil ON perfilesxsecciones(id_perfil);

CREATE TABLE IF NOT EXISTS about_section_data (
    id                BIGSERIAL PRIMARY KEY,
    id_perfilxseccion BIGINT NOT NULL REFERENCES perfilesxsecciones(id),
    headline          TEXT,
    resumen           TEXT
);

CREATE TABLE IF NOT EXISTS education_section_data (
    id                BIGSERIAL PRIMARY KEY,
    id_perfilxseccion BIGINT NOT NULL REFERENCES perfilesxsecciones(id),
    institucion       TEXT,
    titulo            TEXT,
    fecha_inicio      DATE,
    fecha_fin         DATE
);

CREATE TABLE IF NOT EXISTS experience_section_data (
    id                BIGSERIAL PRIMARY KEY,
    id_perfilxseccion BIGINT NOT NULL REFERENCES perfilesxsecciones(id),
    empresa           TEXT,
    cargo             TEXT,
    descripcion       TEXT,
    fecha_inicio      DATE,
    fecha_fin         DATE
);

CREATE TABLE IF NOT EXISTS projects_section_data (
    id                BIGSERIAL PRIMARY KEY,
    id_perfilxseccion BIGINT NOT NULL REFERENCES perfilesxsecciones(id),
    nombre            TEXT,
    descripcion       TEXT,
    url               TEXT,
    tecnologias       JSONB
);

CREATE TABLE IF NOT EXISTS skills_section_data (
    id                BIGSERIAL PRIMARY KEY,
    id_perfilxseccion BIGINT NOT NULL REFERENCES perfilesxsecciones(id),
    habilidad         TEXT,
    nivel             INT
);

CREATE TABLE IF NOT EXISTS activity_section_data (
    id                BIGSERIAL PRIMARY KEY,
    id_perfilxseccion BIGINT NOT NULL REFERENCES perfilesxsecciones(id),
    titulo            TEXT,
    detalle           TEXT,
    fecha             TIMESTAMPTZ
);
`

const seedSectionsSQL = `
INSERT INTO secciones (nombre, tipo_usuario, descripcion) VALUES
    ('about',      '',            'Presentación breve del perfil'),
    ('education',  'Estudiante',  'Formación académica'),
    ('experience', '',            'Experiencia laboral'),
    ('projects',   'Estudiante',  'Proyectos personales y académicos'),
    ('skills',     'Estudiante',  'Habilidades y nivel'),
    ('activity',   'Universidad', 'Actividades y novedades de la institución')
ON CONFLICT (nombre) DO NOTHING
`

// Bootstrap creates the development layout, seeds the section catalog and,
// on an empty user table, a default admin account.
func (s *Store) Bootstrap(ctx context.Context, adminUserType string, log *zap.Logger) error {
	if _, err := s.DB.ExecContext(ctx, devTablesSQL); err != nil {
		return fmt.Errorf("bootstrap tables: %w", MapError(err))
	}
	if _, err := s.DB.ExecContext(ctx, seedSectionsSQL); err != nil {
		return fmt.Errorf("seed sections: %w", MapError(err))
	}
	if err := s.seedAdminUser(ctx, adminUserType, log); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context, userType string, log *zap.Logger) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM usuarios").Scan(&count); err != nil {
		return MapError(err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var userID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO usuarios (tipo, nombreusuario, mail, contrasena_hash) VALUES ($1, $2, $3, $4) RETURNING id`,
			userType, "admin", "admin@localhost", string(hash),
		).Scan(&userID)
		if err != nil {
			return MapError(err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO perfiles (idusuario) VALUES ($1)`, userID); err != nil {
			return MapError(err)
		}
		if log != nil {
			log.Warn("default admin user created (admin@localhost / changeme), change the password immediately")
		}
		return nil
	})
}
