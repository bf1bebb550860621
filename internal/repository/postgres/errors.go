package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows, so the scan
// helpers below serve single-row lookups and list queries alike.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// uniqueViolation reports whether err is a Postgres unique violation on the
// named constraint or index. An empty name matches any unique violation.
// Uniqueness rules live in partial indexes, so insert races surface here
// rather than in application-level checks.
func uniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || string(pqErr.Constraint) == constraint
}

// fkViolation reports whether err is a foreign key violation, which the
// repositories translate to not-found: the referenced parent row does not
// exist (or was deleted mid-flight).
func fkViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
