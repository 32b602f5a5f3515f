package persistence

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"teamera_server/pkg/apperr"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
)

// mapError converts driver errors into coded application errors, keeping
// the database message for store failures.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("profile").WithError(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.AlreadyExists("profile").WithError(err)
		case pgForeignKeyViolation:
			return apperr.BadRequest("profile owner does not exist").WithError(err)
		case pgInvalidText:
			return apperr.BadRequest(pgErr.Message).WithError(err)
		}
		return apperr.StoreError(op, err).WithDetail("pg_code", pgErr.Code)
	}
	return apperr.StoreError(op, err)
}
