// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package storage provides the PostgreSQL persistence layer: a pgx
// pool, a context-scoped transactor, schema migrations, and the
// repository implementations.
package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accountd/accountd/internal/fault"
)

// Querier is the subset of pgx used by the repositories. It is
// satisfied by *pgxpool.Pool, pgx.Tx, and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool connects a pgx pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "connect to database").
			Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "ping database").
			Wrap(err)
	}
	return pool, nil
}

type txKey struct{}

// ErrRollback tells WithinTx to discard the transaction without
// reporting an error. Callers return it when a command produced an
// error-shaped response that must not commit.
var ErrRollback = errors.New("storage: rollback requested")

// Transactor runs functions inside a database transaction carried in
// the context, so every repository call inside fn joins the same
// transaction.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor creates a Transactor over pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTx begins a transaction, stores it in the context, and runs
// fn. The transaction commits only when fn returns nil; ErrRollback
// discards it silently, any other error discards it and propagates.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "begin transaction").
			Wrap(err)
	}

	err = fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fault.New(fault.CodeSQLError).
				With("operation", "rollback transaction").
				Wrap(rbErr)
		}
		if errors.Is(err, ErrRollback) {
			return nil
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "commit transaction").
			Wrap(err)
	}
	return nil
}

// queries returns the transaction carried in ctx, or the fallback
// querier when the call happens outside any transaction.
func queries(ctx context.Context, fallback Querier) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return fallback
}
