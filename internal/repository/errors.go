package repository

import (
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

// Postgres error codes the engine reacts to.
const (
	pgUniqueViolation  = "23505"
	pgCheckViolation   = "23514"
	pgLockNotAvailable = "55P03"
	pgSerializationErr = "40001"
)

// classifyPgError maps driver errors onto the domain taxonomy. Unique
// violations and serialization failures are retryable conflicts, lock
// timeouts carry their own code, and other constraint trips surface as
// integrity errors.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pgUniqueViolation:
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "duplicate record")
	case pgSerializationErr:
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "serialization failure")
	case pgLockNotAvailable:
		return appErrors.Wrap(err, appErrors.ErrLockTimeout.Code, appErrors.ErrLockTimeout.Status, appErrors.ErrLockTimeout.Message)
	case pgCheckViolation:
		return appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, "check constraint violated")
	default:
		return err
	}
}

// IsDuplicate reports whether the error is a uniqueness conflict.
func IsDuplicate(err error) bool {
	e := appErrors.FromError(err)
	return e != nil && e.Code == appErrors.ErrConflict.Code
}

// IsLockTimeout reports whether the error is a section lock timeout.
func IsLockTimeout(err error) bool {
	e := appErrors.FromError(err)
	return e != nil && e.Code == appErrors.ErrLockTimeout.Code
}
