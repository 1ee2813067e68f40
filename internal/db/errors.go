package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jonathan/meal-learner/internal/store"
)

// Postgres SQLSTATE codes the guard treats as a concurrent admission
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
)

// mapGuardError converts conflicts raised by a concurrent guard transaction into
// store.ErrActiveRunInProgress and passes everything else through
func mapGuardError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation, sqlStateSerializationFailure:
			return store.ErrActiveRunInProgress
		}
	}
	return err
}
