package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can open transactions.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Scope exposes the repositories bound to one open transaction.
type Scope interface {
	Tickets() TicketRepository
	Events() TicketEventRepository
	Outbox() OutboxRepository
}

// Transactor runs fn inside a single database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(scope Scope) error) error
}

type pgTransactor struct {
	pool    Pool
	tickets TicketRepository
	events  TicketEventRepository
	outbox  OutboxRepository
}

// NewTransactor builds a Transactor backed by pool.
func NewTransactor(pool Pool) Transactor {
	return &pgTransactor{
		pool:    pool,
		tickets: NewTicketRepository(pool),
		events:  NewTicketEventRepository(pool),
		outbox:  NewOutboxRepository(pool),
	}
}

func (t *pgTransactor) WithinTx(ctx context.Context, fn func(scope Scope) error) error {
	err := pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		return fn(txScope{
			tickets: t.tickets.WithTx(tx),
			events:  t.events.WithTx(tx),
			outbox:  t.outbox.WithTx(tx),
		})
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}

type txScope struct {
	tickets TicketRepository
	events  TicketEventRepository
	outbox  OutboxRepository
}

func (s txScope) Tickets() TicketRepository     { return s.tickets }
func (s txScope) Events() TicketEventRepository { return s.events }
func (s txScope) Outbox() OutboxRepository      { return s.outbox }
