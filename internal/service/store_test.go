package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/referral-service/internal/domain"
	"github.com/spec-kit/referral-service/internal/repository"
)

// memStore is an in-memory stand-in for the relational store. Transactions
// are serialized by txMu, which plays the role of the ticket row lock.
type memStore struct {
	txMu sync.Mutex

	mu        sync.Mutex
	tickets   map[string]*domain.Ticket
	events    []domain.TicketEvent
	outbox    []domain.OutboxMessage
	providers map[string]bool
	contacts  []domain.ProviderContact
	seq       int64

	failApply  error
	failAppend error
}

func newMemStore() *memStore {
	return &memStore{
		tickets:   map[string]*domain.Ticket{},
		providers: map[string]bool{},
	}
}

func (s *memStore) addTicket(t *domain.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t.Clone()
}

func (s *memStore) ticket(id string) *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[id].Clone()
}

func (s *memStore) eventsFor(id string) []domain.TicketEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TicketEvent
	for _, e := range s.events {
		if e.TicketID == id {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) outboxMessages() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxMessage(nil), s.outbox...)
}

func (s *memStore) WithinTx(ctx context.Context, fn func(scope repository.Scope) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	savedTickets := make(map[string]*domain.Ticket, len(s.tickets))
	for id, t := range s.tickets {
		savedTickets[id] = t.Clone()
	}
	savedEvents := len(s.events)
	savedOutbox := len(s.outbox)
	s.mu.Unlock()

	if err := fn(memScope{s}); err != nil {
		s.mu.Lock()
		s.tickets = savedTickets
		s.events = s.events[:savedEvents]
		s.outbox = s.outbox[:savedOutbox]
		s.mu.Unlock()
		return err
	}
	return nil
}

type memScope struct{ s *memStore }

func (m memScope) Tickets() repository.TicketRepository     { return memTickets{m.s} }
func (m memScope) Events() repository.TicketEventRepository { return memEvents{m.s} }
func (m memScope) Outbox() repository.OutboxRepository      { return memOutbox{m.s} }

type memTickets struct{ s *memStore }

func (r memTickets) WithTx(pgx.Tx) repository.TicketRepository { return r }

func (r memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return t.Clone(), nil
}

func (r memTickets) ApplyRouting(_ context.Context, upd domain.RoutingUpdate) (*domain.RoutingResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failApply != nil {
		return nil, r.s.failApply
	}
	prev, ok := r.s.tickets[upd.TicketID]
	if !ok || !upd.Matches(prev) {
		return nil, pgx.ErrNoRows
	}
	next := upd.Apply(prev)
	r.s.tickets[upd.TicketID] = next
	return &domain.RoutingResult{Previous: prev.Clone(), Current: next.Clone()}, nil
}

type memEvents struct{ s *memStore }

func (r memEvents) WithTx(pgx.Tx) repository.TicketEventRepository { return r }

func (r memEvents) Append(_ context.Context, e *domain.TicketEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failAppend != nil {
		return r.s.failAppend
	}
	r.s.seq++
	e.Seq = r.s.seq
	e.ID = fmt.Sprintf("evt-%d", r.s.seq)
	e.CreatedAt = time.Now().UTC()
	r.s.events = append(r.s.events, *e)
	return nil
}

func (r memEvents) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	out := r.s.eventsFor(ticketID)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

type memOutbox struct{ s *memStore }

func (r memOutbox) WithTx(pgx.Tx) repository.OutboxRepository { return r }

func (r memOutbox) Enqueue(_ context.Context, msg *domain.OutboxMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg.Status = domain.OutboxStatusPending
	r.s.outbox = append(r.s.outbox, *msg)
	return nil
}

func (r memOutbox) FetchDue(context.Context, int, time.Time) ([]domain.OutboxMessage, error) {
	return nil, nil
}

func (r memOutbox) MarkDelivered(context.Context, string, time.Time) error { return nil }

func (r memOutbox) MarkRetry(context.Context, string, int, time.Time, string) error { return nil }

func (r memOutbox) MarkDead(context.Context, string, int, string) error { return nil }

type memProviders struct{ s *memStore }

func (r memProviders) GetByID(_ context.Context, id string) (*domain.Provider, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.providers[id] {
		return nil, pgx.ErrNoRows
	}
	return &domain.Provider{ID: id, Name: id}, nil
}

func (r memProviders) Exists(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.providers[id], nil
}

type memContacts struct{ s *memStore }

func (r memContacts) GetByID(_ context.Context, id string) (*domain.ProviderContact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contacts {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r memContacts) GetMembership(_ context.Context, providerID, userID string) (*domain.ProviderContact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contacts {
		if c.ProviderID == providerID && c.UserID == userID {
			c := c
			return &c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r memContacts) FindDefaultHandlers(_ context.Context, providerID string) ([]domain.ProviderContact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ProviderContact
	for _, c := range r.s.contacts {
		if c.ProviderID == providerID && c.IsDefaultReferralHandler {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r memContacts) ListEmailsByProvider(_ context.Context, providerID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []string
	for _, c := range r.s.contacts {
		if c.ProviderID == providerID && c.Email != "" {
			out = append(out, c.Email)
		}
	}
	return out, nil
}

type countingWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
}

func (w *countingWaker) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
