package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError_UniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		Message:        `duplicate key value violates unique constraint "usuarios_mail_key"`,
		ConstraintName: "usuarios_mail_key",
		Detail:         "Key (mail)=(dup@test.com) already exists.",
	}
	wrapped := fmt.Errorf("exec: %w", pgErr)

	mapped := MapError(wrapped)

	if !errors.Is(mapped, ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got: %v", mapped)
	}

	// Original pgconn.PgError should still be extractable
	var extracted *pgconn.PgError
	if !errors.As(mapped, &extracted) {
		t.Fatal("expected pgconn.PgError to still be extractable via errors.As")
	}
	if extracted.ConstraintName != "usuarios_mail_key" {
		t.Fatalf("expected constraint name 'usuarios_mail_key', got: %s", extracted.ConstraintName)
	}
}

func TestMapError_Codes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"23503", ErrForeignKeyViolation},
		{"42P01", ErrUndefinedTable},
		{"40001", ErrTransient},
		{"40P01", ErrTransient},
		{"55P03", ErrTransient},
		{"57014", ErrTransient},
		{"08006", ErrTransient},
	}
	for _, tc := range cases {
		mapped := MapError(&pgconn.PgError{Code: tc.code})
		if !errors.Is(mapped, tc.want) {
			t.Errorf("code %s: expected %v, got %v", tc.code, tc.want, mapped)
		}
	}
}

func TestMapError_ContextErrorsAreTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("query: %w", context.DeadlineExceeded)) {
		t.Fatal("deadline exceeded should be transient")
	}
	if !IsTransient(context.Canceled) {
		t.Fatal("cancellation should be transient")
	}
}

func TestMapError_OtherError(t *testing.T) {
	err := fmt.Errorf("some other error")
	mapped := MapError(err)
	if mapped != err {
		t.Fatalf("expected same error back, got: %v", mapped)
	}
	if IsTransient(err) {
		t.Fatal("plain error should not be transient")
	}
}

func TestMapError_Nil(t *testing.T) {
	if mapped := MapError(nil); mapped != nil {
		t.Fatalf("expected nil, got: %v", mapped)
	}
}
