package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"profile-backend/internal/engine"
	"profile-backend/internal/metadata"
	"profile-backend/internal/store"
)

func newTestApp(t *testing.T) (*fiber.App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(nil)})
	RegisterAuthRoutes(app, NewAuthHandler(store.NewFromDB(db), testSecret, nil))
	return app, mock
}

func post(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

type sessionBody struct {
	Data struct {
		UserID      int64  `json:"id_usuario"`
		ProfileID   int64  `json:"id_perfil"`
		UserType    string `json:"tipo"`
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

func TestRegister_CreatesUserAndProfile(t *testing.T) {
	app, mock := newTestApp(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO usuarios`).
		WithArgs("Estudiante", "ana", "ana@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(`INSERT INTO perfiles`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(70))
	mock.ExpectCommit()

	resp := post(t, app, "/api/auth/register", map[string]any{
		"tipo": "Estudiante", "nombreusuario": "ana", "mail": " Ana@Example.com ", "contrasena": "secreto1",
	})
	require.Equal(t, 201, resp.StatusCode)

	var body sessionBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(7), body.Data.UserID)
	assert.Equal(t, int64(70), body.Data.ProfileID)

	claims, err := ParseAccessToken(body.Data.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.Subject)
	assert.Equal(t, "Estudiante", claims.UserType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_ProfileFailureRollsBackUser(t *testing.T) {
	app, mock := newTestApp(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO usuarios`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(`INSERT INTO perfiles`).WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	resp := post(t, app, "/api/auth/register", map[string]any{
		"tipo": "Universidad", "nombreusuario": "uni", "mail": "uni@example.com", "contrasena": "secreto1",
	})
	assert.Equal(t, 500, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_DuplicateMailIsConflict(t *testing.T) {
	app, mock := newTestApp(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO usuarios`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	resp := post(t, app, "/api/auth/register", map[string]any{
		"tipo": "Estudiante", "nombreusuario": "ana", "mail": "ana@example.com", "contrasena": "secreto1",
	})
	assert.Equal(t, 409, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_Validation(t *testing.T) {
	app, mock := newTestApp(t)

	resp := post(t, app, "/api/auth/register", map[string]any{
		"tipo": "Administrador", "nombreusuario": "x", "mail": "not-a-mail", "contrasena": "123",
	})
	require.Equal(t, 400, resp.StatusCode)

	var errResp engine.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	fields := map[string]string{}
	for _, d := range errResp.Error.Details {
		fields[d.Field] = d.Rule
	}
	assert.Equal(t, "oneof", fields["tipo"])
	assert.Equal(t, "email", fields["mail"])
	assert.Equal(t, "min", fields["contrasena"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectLoginRow(mock sqlmock.Sqlmock, password string) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	mock.ExpectQuery(`FROM usuarios u`).
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tipo", "contrasena_hash", "id_perfil"}).
			AddRow(7, "Estudiante", string(hash), 70))
}

func TestLogin(t *testing.T) {
	app, mock := newTestApp(t)
	expectLoginRow(mock, "secreto1")

	resp := post(t, app, "/api/auth/login", map[string]any{"mail": "ana@example.com", "contrasena": "secreto1"})
	require.Equal(t, 200, resp.StatusCode)

	var body sessionBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(70), body.Data.ProfileID)
	assert.NotEmpty(t, body.Data.AccessToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	app, mock := newTestApp(t)
	expectLoginRow(mock, "secreto1")

	resp := post(t, app, "/api/auth/login", map[string]any{"mail": "ana@example.com", "contrasena": "nope"})
	assert.Equal(t, 401, resp.StatusCode)
}

func TestLogin_UnknownMail(t *testing.T) {
	app, mock := newTestApp(t)
	mock.ExpectQuery(`FROM usuarios u`).WillReturnRows(sqlmock.NewRows([]string{"id", "tipo", "contrasena_hash", "id_perfil"}))

	resp := post(t, app, "/api/auth/login", map[string]any{"mail": "ana@example.com", "contrasena": "x"})
	assert.Equal(t, 401, resp.StatusCode)
}

func TestRequireCaller(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(nil)})
	app.Get("/me", RequireCaller(testSecret), func(c *fiber.Ctx) error {
		return c.JSON(GetUser(c))
	})
	app.Get("/admin", RequireCaller(testSecret), RequireUserType("Administrador"), func(c *fiber.Ctx) error {
		return c.SendStatus(204)
	})

	call := func(path, header string) *http.Response {
		req, _ := http.NewRequest("GET", path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, 401, call("/me", "").StatusCode)
	assert.Equal(t, 401, call("/me", "Token abc").StatusCode)
	assert.Equal(t, 401, call("/me", "Bearer garbage").StatusCode)

	tok, err := GenerateAccessToken(3, "Estudiante", testSecret)
	require.NoError(t, err)
	resp := call("/me", "Bearer "+tok.AccessToken)
	require.Equal(t, 200, resp.StatusCode)
	var user metadata.UserContext
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	assert.Equal(t, "3", user.ID)
	assert.Equal(t, "Estudiante", user.UserType)

	assert.Equal(t, 403, call("/admin", "Bearer "+tok.AccessToken).StatusCode)

	admin, err := GenerateAccessToken(1, "Administrador", testSecret)
	require.NoError(t, err)
	assert.Equal(t, 204, call("/admin", "Bearer "+admin.AccessToken).StatusCode)
	assert.Equal(t, 200, call("/me", "bearer "+tok.AccessToken).StatusCode)
}

func TestRequireCaller_RejectsTokensWithoutAUser(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(nil)})
	app.Get("/me", RequireCaller(testSecret), func(c *fiber.Ctx) error {
		return c.SendStatus(204)
	})

	sign := func(subject, userType string) string {
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   subject,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			UserType: userType,
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return signed
	}

	for name, tok := range map[string]string{
		"non-numeric subject": sign("admin", "Estudiante"),
		"zero subject":        sign("0", "Estudiante"),
		"no user type":        sign("3", ""),
	} {
		req, _ := http.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode, name)
	}
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"BEARER  abc ": "abc",
		"Bearer":       "",
		"Bearer ":      "",
		"Basic abc":    "",
		"":             "",
	} {
		got, ok := bearerToken(header)
		assert.Equal(t, want, got, header)
		assert.Equal(t, want != "", ok, header)
	}
}

func TestRequireUserType_AnyOf(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(nil)})
	app.Get("/staff", func(c *fiber.Ctx) error {
		c.Locals(callerLocal, &metadata.UserContext{ID: "5", UserType: "universidad"})
		return c.Next()
	}, RequireUserType("Administrador", "Universidad"), func(c *fiber.Ctx) error {
		return c.SendStatus(204)
	})

	req, _ := http.NewRequest("GET", "/staff", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
}
