package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/referral-service/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	WithTx(tx pgx.Tx) TicketRepository
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// ApplyRouting executes upd as one statement and returns the row before and
	// after the change. pgx.ErrNoRows means the ticket is missing or the
	// provider guard did not hold.
	ApplyRouting(ctx context.Context, upd domain.RoutingUpdate) (*domain.RoutingResult, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) WithTx(tx pgx.Tx) TicketRepository {
	return &ticketRepository{db: tx}
}

const ticketColumns = `id, provider_id, assigned_to, assigned_at, status, forwarded_from_provider_id,
            reassignment_count, last_reassigned_at, created_at, updated_at`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := r.db.QueryRow(ctx, query, id).Scan(ticketDest(&ticket)...); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// applyRoutingQuery locks the row in the CTE so prev holds the committed values
// the update is computed from.
const applyRoutingQuery = `
        WITH prev AS (
            SELECT ` + ticketColumns + `
            FROM tickets WHERE id=$1
            FOR UPDATE
        )
        UPDATE tickets t SET
            provider_id=$2,
            assigned_to=$3,
            assigned_at=$4,
            forwarded_from_provider_id=CASE $5::text
                WHEN 'capture' THEN COALESCE(prev.provider_id, prev.forwarded_from_provider_id)
                WHEN 'keep' THEN prev.forwarded_from_provider_id
                ELSE NULL END,
            status=COALESCE($6::text, prev.status),
            reassignment_count=t.reassignment_count + $7,
            last_reassigned_at=CASE WHEN $8::boolean THEN $11 ELSE prev.last_reassigned_at END,
            updated_at=$11
        FROM prev
        WHERE t.id=prev.id
          AND (NOT $9::boolean OR prev.provider_id IS NOT DISTINCT FROM $10::uuid)
        RETURNING prev.id, prev.provider_id, prev.assigned_to, prev.assigned_at, prev.status,
            prev.forwarded_from_provider_id, prev.reassignment_count, prev.last_reassigned_at,
            prev.created_at, prev.updated_at,
            t.id, t.provider_id, t.assigned_to, t.assigned_at, t.status,
            t.forwarded_from_provider_id, t.reassignment_count, t.last_reassigned_at,
            t.created_at, t.updated_at`

func (r *ticketRepository) ApplyRouting(ctx context.Context, upd domain.RoutingUpdate) (*domain.RoutingResult, error) {
	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	mode := upd.ForwardedFrom
	if mode == "" {
		mode = domain.ForwardedFromClear
	}

	var prev, next domain.Ticket
	dest := append(ticketDest(&prev), ticketDest(&next)...)
	err := r.db.QueryRow(ctx, applyRoutingQuery,
		upd.TicketID,
		upd.ProviderID,
		upd.AssignedTo,
		upd.AssignedAt,
		string(mode),
		status,
		upd.CountDelta,
		upd.TouchReassignedAt,
		upd.GuardProvider,
		upd.ExpectedProviderID,
		upd.Now,
	).Scan(dest...)
	if err != nil {
		return nil, err
	}
	return &domain.RoutingResult{Previous: &prev, Current: &next}, nil
}

func ticketDest(t *domain.Ticket) []any {
	return []any{
		&t.ID,
		&t.ProviderID,
		&t.AssignedTo,
		&t.AssignedAt,
		&t.Status,
		&t.ForwardedFromProviderID,
		&t.ReassignmentCount,
		&t.LastReassignedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	}
}
