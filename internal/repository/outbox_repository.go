package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/referral-service/internal/domain"
)

// ErrOutboxMessageMissing is returned when a status transition matches no row.
var ErrOutboxMessageMissing = errors.New("outbox message not found")

// OutboxRepository persists side effects awaiting delivery.
type OutboxRepository interface {
	WithTx(tx pgx.Tx) OutboxRepository
	Enqueue(ctx context.Context, msg *domain.OutboxMessage) error
	// FetchDue locks up to limit pending messages whose next attempt is due.
	// Rows locked by another worker are skipped.
	FetchDue(ctx context.Context, limit int, now time.Time) ([]domain.OutboxMessage, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastErr string) error
	MarkDead(ctx context.Context, id string, attempts int, lastErr string) error
}

type outboxRepository struct {
	db DBTX
}

// NewOutboxRepository constructs repository.
func NewOutboxRepository(db DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) WithTx(tx pgx.Tx) OutboxRepository {
	return &outboxRepository{db: tx}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg *domain.OutboxMessage) error {
	const query = `
        INSERT INTO outbox_messages (id, ticket_id, kind, payload, status, next_attempt_at)
        VALUES ($1,$2,$3,$4,'pending',$5)
        RETURNING status, attempt_count, created_at`
	nextAttempt := msg.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = time.Now().UTC()
	}
	if err := r.db.QueryRow(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.Kind,
		[]byte(msg.Payload),
		nextAttempt,
	).Scan(&msg.Status, &msg.AttemptCount, &msg.CreatedAt); err != nil {
		return err
	}
	msg.NextAttemptAt = nextAttempt
	return nil
}

func (r *outboxRepository) FetchDue(ctx context.Context, limit int, now time.Time) ([]domain.OutboxMessage, error) {
	const query = `
        SELECT id, ticket_id, kind, payload, status, attempt_count, next_attempt_at, last_error, created_at, delivered_at
        FROM outbox_messages
        WHERE status='pending' AND next_attempt_at <= $1
        ORDER BY next_attempt_at ASC, created_at ASC
        LIMIT $2
        FOR UPDATE SKIP LOCKED`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		var (
			msg     domain.OutboxMessage
			payload []byte
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.Kind,
			&payload,
			&msg.Status,
			&msg.AttemptCount,
			&msg.NextAttemptAt,
			&msg.LastError,
			&msg.CreatedAt,
			&msg.DeliveredAt,
		); err != nil {
			return nil, err
		}
		msg.Payload = payload
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	const query = `
        UPDATE outbox_messages SET status='delivered', delivered_at=$2, attempt_count=attempt_count + 1, last_error=NULL
        WHERE id=$1`
	return r.exec(ctx, query, id, at)
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	const query = `
        UPDATE outbox_messages SET attempt_count=$2, next_attempt_at=$3, last_error=$4
        WHERE id=$1`
	return r.exec(ctx, query, id, attempts, nextAttemptAt, lastErr)
}

func (r *outboxRepository) MarkDead(ctx context.Context, id string, attempts int, lastErr string) error {
	const query = `
        UPDATE outbox_messages SET status='dead', attempt_count=$2, last_error=$3
        WHERE id=$1`
	return r.exec(ctx, query, id, attempts, lastErr)
}

func (r *outboxRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOutboxMessageMissing
	}
	return nil
}
