package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"billing-saga/internal/domain"
)

const uniqueViolation = "23505"

func execSQL(ctx context.Context, pool *pgxpool.Pool, q string, args ...interface{}) (pgconn.CommandTag, error) {
	if pool == nil {
		return nil, domain.ErrInvalidExecContext
	}
	return pool.Exec(ctx, q, args...)
}

func pickRow(ctx context.Context, pool *pgxpool.Pool, q string, args ...interface{}) (pgx.Row, error) {
	if pool == nil {
		return nil, domain.ErrInvalidExecContext
	}
	return pool.QueryRow(ctx, q, args...), nil
}

func queryRows(ctx context.Context, pool *pgxpool.Pool, q string, args ...interface{}) (pgx.Rows, error) {
	if pool == nil {
		return nil, domain.ErrInvalidExecContext
	}
	return pool.Query(ctx, q, args...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
