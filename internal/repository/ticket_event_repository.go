package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/referral-service/internal/domain"
)

// TicketEventRepository stores the append-only audit trail. There is no update
// or delete method; the table rejects both with a trigger.
type TicketEventRepository interface {
	WithTx(tx pgx.Tx) TicketEventRepository
	Append(ctx context.Context, event *domain.TicketEvent) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error)
}

type ticketEventRepository struct {
	db DBTX
}

// NewTicketEventRepository constructs the repository.
func NewTicketEventRepository(db DBTX) TicketEventRepository {
	return &ticketEventRepository{db: db}
}

func (r *ticketEventRepository) WithTx(tx pgx.Tx) TicketEventRepository {
	return &ticketEventRepository{db: tx}
}

func (r *ticketEventRepository) Append(ctx context.Context, event *domain.TicketEvent) error {
	prevState, err := json.Marshal(event.PreviousState)
	if err != nil {
		return fmt.Errorf("encode previous_state: %w", err)
	}
	newState, err := json.Marshal(event.NewState)
	if err != nil {
		return fmt.Errorf("encode new_state: %w", err)
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var reason *string
	if event.Reason != nil {
		r := string(*event.Reason)
		reason = &r
	}

	const query = `
        INSERT INTO ticket_events (ticket_id, event_type, actor_id, actor_type, previous_state, new_state, reason, notes, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, seq, created_at`
	return r.db.QueryRow(ctx, query,
		event.TicketID,
		string(event.EventType),
		event.ActorID,
		string(event.ActorType),
		prevState,
		newState,
		reason,
		event.Notes,
		metadata,
	).Scan(&event.ID, &event.Seq, &event.CreatedAt)
}

func (r *ticketEventRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	const query = `
        SELECT id, seq, ticket_id, event_type, actor_id, actor_type, previous_state, new_state,
            reason, notes, metadata, created_at
        FROM ticket_events WHERE ticket_id=$1 ORDER BY seq ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TicketEvent
	for rows.Next() {
		var (
			event                        domain.TicketEvent
			prevState, newState, rawMeta []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.Seq,
			&event.TicketID,
			&event.EventType,
			&event.ActorID,
			&event.ActorType,
			&prevState,
			&newState,
			&event.Reason,
			&event.Notes,
			&rawMeta,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(prevState, &event.PreviousState); err != nil {
			return nil, fmt.Errorf("decode previous_state of %s: %w", event.ID, err)
		}
		if err := json.Unmarshal(newState, &event.NewState); err != nil {
			return nil, fmt.Errorf("decode new_state of %s: %w", event.ID, err)
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
