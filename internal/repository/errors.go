package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const uniqueViolation = "23505"

// ErrNotFound is returned by updates that matched no row. Lookups return sql.ErrNoRows.
var ErrNotFound = errors.New("record not found")

func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound)
}

// UniqueViolation reports the violated constraint name of a pg 23505 error.
func UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func execChanged(ctx context.Context, db sqlx.ExecerContext, query string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func execAffectingOne(ctx context.Context, db sqlx.ExecerContext, query string, args ...any) error {
	changed, err := execChanged(ctx, db, query, args...)
	if err != nil {
		return err
	}
	if !changed {
		return ErrNotFound
	}
	return nil
}
