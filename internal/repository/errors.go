package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrStaleVersion means a version-checked update matched no row: another
	// transaction changed the row after it was read.
	ErrStaleVersion = errors.New("row was modified concurrently")
	// ErrDuplicate means a unique constraint rejected the write.
	ErrDuplicate = errors.New("unique constraint violated")
	// ErrSerialization means the database aborted the transaction to keep
	// concurrent transactions serialisable.
	ErrSerialization = errors.New("transaction serialization failure")
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classify maps driver errors onto the repository sentinels. Errors it does
// not recognise are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Join(ErrDuplicate, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errors.Join(ErrDuplicate, err)
		case pgSerializationFailure, pgDeadlockDetected:
			return errors.Join(ErrSerialization, err)
		}
		return err
	}

	// sqlite without error translation
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errors.Join(ErrDuplicate, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return errors.Join(ErrSerialization, err)
	}
	return err
}

// IsConcurrencyError reports whether err is a lost race the caller should
// surface as a conflict after re-reading state.
func IsConcurrencyError(err error) bool {
	return errors.Is(err, ErrStaleVersion) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrSerialization)
}
