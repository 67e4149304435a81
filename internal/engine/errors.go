package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/jackc/pgx/v5/pgconn"

	"profile-backend/internal/store"
)

// Outcomes of the section engine. Callers match them with errors.Is; the
// HTTP layer turns them into an AppError with ToAppError.
var (
	ErrInvalidIdentifier  = store.ErrInvalidIdentifier
	ErrNotFound           = store.ErrNotFound // not found or not owned by the caller
	ErrUnknownSectionType = errors.New("unknown section type")
	ErrSchemaMissing      = errors.New("section schema missing")
	ErrTransientStorage   = errors.New("transient storage failure")
	ErrStorage            = errors.New("storage failure")
	ErrValidation         = errors.New("validation failed")
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

// HTTPStatus lets the request logger record the rendered status.
func (e *AppError) HTTPStatus() int {
	return e.Status
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

// ValidationErrors is a ValidationFailure with per-field details.
type ValidationErrors []ErrorDetail

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, d := range v {
		if d.Field != "" {
			msgs[i] = d.Field + ": " + d.Message
		} else {
			msgs[i] = d.Message
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrValidation
}

func invalidField(field, rule, msg string) ValidationErrors {
	return ValidationErrors{{Field: field, Rule: rule, Message: msg}}
}

// storageError classifies a failure from the store layer. Errors that
// already carry an engine outcome pass through untouched.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isOutcome(err) {
		return err
	}
	kind := ErrStorage
	if store.IsTransient(err) {
		kind = ErrTransientStorage
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

func isOutcome(err error) bool {
	for _, target := range []error{
		ErrInvalidIdentifier, ErrNotFound, ErrUnknownSectionType, ErrSchemaMissing,
		ErrTransientStorage, ErrStorage, ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(what, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with id %s not found", what, id),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  fiber.StatusBadRequest,
		Message: "Validation failed",
		Details: details,
	}
}

func InvalidPayloadError() *AppError {
	return NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid JSON body")
}

func UnauthorizedError(msg string) *AppError {
	return NewAppError("UNAUTHORIZED", fiber.StatusUnauthorized, msg)
}

func ForbiddenError(msg string) *AppError {
	return NewAppError("FORBIDDEN", fiber.StatusForbidden, msg)
}

func ConflictError(msg string) *AppError {
	return NewAppError("CONFLICT", fiber.StatusConflict, msg)
}

// ToAppError maps an engine outcome to its HTTP rendering. Unclassified
// errors become a generic 500 so driver text never reaches the client.
func ToAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return ValidationError(verrs)
	}

	switch {
	case errors.Is(err, ErrValidation):
		return NewAppError("VALIDATION_FAILED", fiber.StatusBadRequest, "Validation failed")
	case errors.Is(err, ErrNotFound):
		return NewAppError("NOT_FOUND", fiber.StatusNotFound, "Not found")
	case errors.Is(err, ErrInvalidIdentifier):
		return NewAppError("INVALID_IDENTIFIER", fiber.StatusBadRequest, "Invalid identifier")
	case errors.Is(err, ErrUnknownSectionType):
		return NewAppError("UNKNOWN_SECTION_TYPE", fiber.StatusBadRequest, "Unknown section type")
	case errors.Is(err, ErrSchemaMissing):
		return NewAppError("SCHEMA_MISSING", fiber.StatusBadRequest, "Section storage is not available")
	case errors.Is(err, store.ErrUniqueViolation):
		msg := "A record with this value already exists"
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			msg = pgErr.Detail
		}
		return ConflictError(msg)
	case errors.Is(err, ErrTransientStorage):
		return NewAppError("STORAGE_UNAVAILABLE", fiber.StatusInternalServerError, "Storage temporarily unavailable")
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return NewAppError(strings.ToUpper(strings.ReplaceAll(utils.StatusMessage(fiberErr.Code), " ", "_")), fiberErr.Code, fiberErr.Message)
	}

	return NewAppError("INTERNAL_ERROR", fiber.StatusInternalServerError, "Internal server error")
}
