package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrInvalidIdentifier = errors.New("invalid identifier")

// maxIdentifierLen is PostgreSQL's NAMEDATALEN-1.
const maxIdentifierLen = 63

// CheckIdentifier reports whether name may be placed in a non-parameterized
// position. Strict mode allows [a-z0-9_]; with caseSensitive it allows
// [A-Za-z0-9_], and the caller must quote the result (QuoteIdentifier).
func CheckIdentifier(name string, caseSensitive bool) error {
	if len(name) == 0 || len(name) > maxIdentifierLen {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
		case caseSensitive && c >= 'A' && c <= 'Z':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	return nil
}

// QuoteIdentifier checks name and returns it quoted for splicing into SQL.
// Every dynamic identifier goes through here immediately before use.
func QuoteIdentifier(name string) (string, error) {
	if err := CheckIdentifier(name, true); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// QuoteIdentifiers quotes each name, failing on the first bad one.
func QuoteIdentifiers(names []string) ([]string, error) {
	quoted := make([]string, len(names))
	for i, n := range names {
		q, err := QuoteIdentifier(n)
		if err != nil {
			return nil, err
		}
		quoted[i] = q
	}
	return quoted, nil
}
