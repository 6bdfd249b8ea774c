package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/referral-service/internal/domain"
	"github.com/spec-kit/referral-service/internal/events"
	"github.com/spec-kit/referral-service/internal/repository"
	apperrors "github.com/spec-kit/referral-service/pkg/util/errorutil"
)

const (
	ticket1   = "3f2b8c1e-7d4a-4e2b-9c1d-5a6b7c8d9e01"
	provider1 = "11111111-1111-4111-8111-111111111111"
	provider2 = "22222222-2222-4222-8222-222222222222"
	provider3 = "33333333-3333-4333-8333-333333333333"
	contactP1 = "aaaaaaaa-0000-4000-8000-000000000001"
	handlerP2 = "aaaaaaaa-0000-4000-8000-000000000002"
	memberP2  = "aaaaaaaa-0000-4000-8000-000000000003"
	contactP3 = "aaaaaaaa-0000-4000-8000-000000000004"
)

var (
	siteAdmin  = domain.Identity{UserID: "admin-1", IsSiteAdmin: true}
	p1Contact  = domain.Identity{UserID: "user-p1"}
	p2Admin    = domain.Identity{UserID: "user-p2-admin"}
	p3Contact  = domain.Identity{UserID: "user-p3"}
	fixedClock = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

func strPtr(v string) *string { return &v }

func statusPtr(v domain.TicketStatus) *domain.TicketStatus { return &v }

type harness struct {
	store *memStore
	waker *countingWaker
	svc   *ForwardingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	store.providers[provider1] = true
	store.providers[provider2] = true
	store.providers[provider3] = true
	store.contacts = []domain.ProviderContact{
		{ID: contactP1, ProviderID: provider1, UserID: "user-p1", Email: "p1@example.com", ProviderRole: domain.ProviderRoleUser},
		{ID: memberP2, ProviderID: provider2, UserID: "user-p2-admin", Email: "p2-admin@example.com", ProviderRole: domain.ProviderRoleAdmin},
		{ID: contactP3, ProviderID: provider3, UserID: "user-p3", ProviderRole: domain.ProviderRoleUser},
	}
	store.addTicket(&domain.Ticket{
		ID:         ticket1,
		ProviderID: strPtr(provider1),
		AssignedTo: strPtr("user-p1"),
		Status:     domain.TicketStatusPending,
	})

	waker := &countingWaker{}
	svc := NewForwardingService(ForwardingDependencies{
		TicketRepo:   memTickets{store},
		ProviderRepo: memProviders{store},
		ContactRepo:  memContacts{store},
		EventRepo:    memEvents{store},
		Transactor:   store,
		SideEffects:  []events.EventType{events.EventTicketNotification, events.EventTicketWebhook},
		SiteID:       "site-1",
		Waker:        waker,
		Clock:        func() time.Time { return fixedClock },
	})
	return &harness{store: store, waker: waker, svc: svc}
}

func (h *harness) withDefaultHandler() {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.contacts = append(h.store.contacts, domain.ProviderContact{
		ID: handlerP2, ProviderID: provider2, UserID: "user-p2-handler", IsDefaultReferralHandler: true,
		ProviderRole: domain.ProviderRoleUser, CreatedAt: fixedClock.Add(-time.Hour),
	})
}

func forwardToAdmin(reason domain.ForwardReason) ForwardInput {
	return ForwardInput{Action: domain.ActionForwardToAdmin, Reason: reason}
}

func forwardToProvider(target string) ForwardInput {
	return ForwardInput{Action: domain.ActionForwardToProvider, TargetProviderID: strPtr(target), Reason: domain.ReasonWrongOrg}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, code), "expected %s, got %v", code, err)
}

// Scenario A
func TestForward_ToAdminPool(t *testing.T) {
	h := newHarness(t)

	got, err := h.svc.Forward(context.Background(), p1Contact, ticket1, forwardToAdmin(domain.ReasonUnableToAssist))
	require.NoError(t, err)

	assert.Nil(t, got.ProviderID)
	assert.Nil(t, got.AssignedTo)
	assert.Nil(t, got.AssignedAt)
	require.NotNil(t, got.ForwardedFromProviderID)
	assert.Equal(t, provider1, *got.ForwardedFromProviderID)
	assert.Equal(t, 1, got.ReassignmentCount)
	require.NotNil(t, got.LastReassignedAt)
	assert.True(t, fixedClock.Equal(*got.LastReassignedAt))

	evts := h.store.eventsFor(ticket1)
	require.Len(t, evts, 1)
	e := evts[0]
	assert.Equal(t, domain.EventTypeForwarded, e.EventType)
	assert.Equal(t, domain.ActorTypeProviderContact, e.ActorType)
	assert.Equal(t, "user-p1", e.ActorID)
	assert.Nil(t, e.NewState.ProviderID)
	assert.Equal(t, provider1, *e.PreviousState.ProviderID)
	require.NotNil(t, e.Reason)
	assert.Equal(t, domain.ReasonUnableToAssist, *e.Reason)
	assert.Equal(t, domain.ActionForwardToAdmin, e.Metadata.Action)
	assert.Equal(t, domain.EventMetadataVersion, e.Metadata.SchemaVersion)

	msgs := h.store.outboxMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, string(events.EventTicketNotification), msgs[0].Kind)
	assert.Equal(t, string(events.EventTicketWebhook), msgs[1].Kind)
	assert.Equal(t, 1, h.waker.calls())
}

// Scenario B
func TestForward_ToProviderWithoutDefaultHandler(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Forward(context.Background(), p1Contact, ticket1, forwardToAdmin(domain.ReasonUnableToAssist))
	require.NoError(t, err)

	got, err := h.svc.Forward(context.Background(), siteAdmin, ticket1, forwardToProvider(provider2))
	require.NoError(t, err)

	assert.Equal(t, provider2, *got.ProviderID)
	assert.Nil(t, got.AssignedTo)
	assert.NotNil(t, got.AssignedAt)
	assert.Nil(t, got.ForwardedFromProviderID)
	assert.Equal(t, 2, got.ReassignmentCount)

	evts := h.store.eventsFor(ticket1)
	require.Len(t, evts, 2)
	assert.False(t, evts[1].Metadata.DefaultHandlerFound)
	require.NoError(t, domain.VerifyChain(evts))
}

// Scenario C
func TestForward_UnrelatedContactCannotTouchAdminPool(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Forward(context.Background(), p1Contact, ticket1, forwardToAdmin(domain.ReasonUnableToAssist))
	require.NoError(t, err)
	before := h.store.ticket(ticket1)

	_, err = h.svc.Forward(context.Background(), p3Contact, ticket1, forwardToProvider(provider3))

	assertCode(t, err, apperrors.CodeForbidden)
	assert.Equal(t, forwardForbiddenMessage, err.Error())
	assert.Equal(t, before, h.store.ticket(ticket1))
	assert.Len(t, h.store.eventsFor(ticket1), 1)
}

func TestForward_ContactOfOtherProviderForbidden(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Forward(context.Background(), p3Contact, ticket1, forwardToAdmin(domain.ReasonOther))

	assertCode(t, err, apperrors.CodeForbidden)
	assert.Equal(t, 0, h.store.ticket(ticket1).ReassignmentCount)
	assert.Empty(t, h.store.eventsFor(ticket1))
	assert.Equal(t, 0, h.waker.calls())
}

func TestForward_AssignsDefaultHandler(t *testing.T) {
	h := newHarness(t)
	h.withDefaultHandler()

	got, err := h.svc.Forward(context.Background(), p1Contact, ticket1, forwardToProvider(provider2))
	require.NoError(t, err)

	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "user-p2-handler", *got.AssignedTo)
	e := h.store.eventsFor(ticket1)[0]
	assert.True(t, e.Metadata.DefaultHandlerFound)
	assert.Equal(t, handlerP2, *e.Metadata.TargetContactID)
}

func TestForward_StatusOverride(t *testing.T) {
	h := newHarness(t)
	in := forwardToAdmin(domain.ReasonWrongOrg)
	in.NewStatus = statusPtr(domain.TicketStatusWrongOrg)

	got, err := h.svc.Forward(context.Background(), siteAdmin, ticket1, in)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusWrongOrg, got.Status)
	e := h.store.eventsFor(ticket1)[0]
	assert.Equal(t, domain.TicketStatusPending, e.PreviousState.Status)
	assert.Equal(t, domain.TicketStatusWrongOrg, e.NewState.Status)
}

func TestForward_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		input ForwardInput
		field string
	}{
		{name: "missing reason", input: ForwardInput{Action: domain.ActionForwardToAdmin}, field: "reason"},
		{name: "unknown reason", input: ForwardInput{Action: domain.ActionForwardToAdmin, Reason: "busy"}, field: "reason"},
		{name: "unknown action", input: ForwardInput{Action: "archive", Reason: domain.ReasonOther}, field: "action"},
		{name: "missing target", input: ForwardInput{Action: domain.ActionForwardToProvider, Reason: domain.ReasonOther}, field: "target_provider_id"},
		{name: "malformed target", input: ForwardInput{Action: domain.ActionForwardToProvider, Reason: domain.ReasonOther, TargetProviderID: strPtr("p2")}, field: "target_provider_id"},
		{name: "same provider", input: forwardToProvider(provider1), field: "target_provider_id"},
		{name: "unknown status", input: ForwardInput{Action: domain.ActionForwardToAdmin, Reason: domain.ReasonOther, NewStatus: statusPtr("closed")}, field: "new_status"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Forward(context.Background(), siteAdmin, ticket1, tc.input)
			assertCode(t, err, apperrors.CodeValidation)
			assert.Contains(t, apperrors.ToDomainError(err).Details, tc.field)
			assert.Empty(t, h.store.eventsFor(ticket1))
		})
	}
}

func TestForward_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Forward(context.Background(), siteAdmin, "not-a-uuid", forwardToAdmin(domain.ReasonOther))
	assertCode(t, err, apperrors.CodeNotFound)

	_, err = h.svc.Forward(context.Background(), siteAdmin, "44444444-4444-4444-8444-444444444444", forwardToAdmin(domain.ReasonOther))
	assertCode(t, err, apperrors.CodeNotFound)

	_, err = h.svc.Forward(context.Background(), siteAdmin, ticket1, forwardToProvider("55555555-5555-4555-8555-555555555555"))
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestForward_ToAdminPoolRepeats(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, err := h.svc.Forward(context.Background(), siteAdmin, ticket1, forwardToAdmin(domain.ReasonOther))
		require.NoError(t, err)
	}

	tk := h.store.ticket(ticket1)
	assert.Nil(t, tk.ProviderID)
	assert.Equal(t, 3, tk.ReassignmentCount)
	require.NotNil(t, tk.ForwardedFromProviderID)
	assert.Equal(t, provider1, *tk.ForwardedFromProviderID)
	assert.Len(t, h.store.eventsFor(ticket1), 3)
}

// cancelledTransactor fails when the context reaching the transaction is done.
type cancelledTransactor struct{ inner *memStore }

func (c cancelledTransactor) WithinTx(ctx context.Context, fn func(scope repository.Scope) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.inner.WithinTx(ctx, fn)
}

func TestForward_CommitIgnoresRequestCancellation(t *testing.T) {
	h := newHarness(t)
	h.svc.tx = cancelledTransactor{inner: h.store}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Forward(ctx, siteAdmin, ticket1, forwardToAdmin(domain.ReasonCapacity))

	require.NoError(t, err)
	assert.Nil(t, h.store.ticket(ticket1).ProviderID)
	assert.Len(t, h.store.eventsFor(ticket1), 1)
}

func TestForward_PersistenceFailureRecordsNothing(t *testing.T) {
	h := newHarness(t)
	h.store.failAppend = errors.New("disk full")

	_, err := h.svc.Forward(context.Background(), siteAdmin, ticket1, forwardToAdmin(domain.ReasonOther))

	assertCode(t, err, apperrors.CodeInternal)
	tk := h.store.ticket(ticket1)
	assert.Equal(t, provider1, *tk.ProviderID)
	assert.Equal(t, 0, tk.ReassignmentCount)
	assert.Empty(t, h.store.eventsFor(ticket1))
	assert.Empty(t, h.store.outboxMessages())
	assert.Equal(t, 0, h.waker.calls())
}

func TestForward_UpdateFailureRecordsNoEvent(t *testing.T) {
	h := newHarness(t)
	h.store.failApply = errors.New("connection reset")

	_, err := h.svc.Forward(context.Background(), siteAdmin, ticket1, forwardToAdmin(domain.ReasonOther))

	assertCode(t, err, apperrors.CodeInternal)
	assert.Empty(t, h.store.eventsFor(ticket1))
}

func TestForward_ContactLosesRaceToConcurrentMove(t *testing.T) {
	h := newHarness(t)
	ticket, err := h.svc.loadTicket(context.Background(), ticket1)
	require.NoError(t, err)

	// an admin moves the ticket after the contact was authorized
	_, err = h.svc.Reassign(context.Background(), siteAdmin, ticket1, ReassignInput{TargetProviderID: provider3})
	require.NoError(t, err)

	upd := domain.PlanForwardToAdmin(ticket, nil, fixedClock).WithProviderGuard(ticket.ProviderID)
	_, err = h.svc.commit(context.Background(), domain.ActionForwardToAdmin, transition{
		identity:  p1Contact,
		ticket:    ticket,
		update:    upd,
		eventType: domain.EventTypeForwarded,
	})

	assertCode(t, err, apperrors.CodeConflict)
	assert.Equal(t, provider3, *h.store.ticket(ticket1).ProviderID)
	assert.Len(t, h.store.eventsFor(ticket1), 1)
}

func TestForward_ConcurrentAdminForwardsCountEveryMove(t *testing.T) {
	h := newHarness(t)
	const n = 25

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := provider2
			if i%2 == 0 {
				target = provider3
			}
			_, err := h.svc.Reassign(context.Background(), siteAdmin, ticket1, ReassignInput{TargetProviderID: target})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final := h.store.ticket(ticket1)
	assert.Equal(t, n, final.ReassignmentCount)

	evts, err := h.svc.ListEvents(context.Background(), siteAdmin, ticket1)
	require.NoError(t, err)
	require.Len(t, evts, n)
	require.NoError(t, domain.VerifyChain(evts))

	state, err := domain.Replay(evts)
	require.NoError(t, err)
	assert.True(t, state.Equal(final.Snapshot()))
}

func TestForward_ConcurrentForwardsToAdminCountEveryCall(t *testing.T) {
	h := newHarness(t)
	const n = 25

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Forward(context.Background(), siteAdmin, ticket1, forwardToAdmin(domain.ReasonCapacity))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// sequential repeats keep counting
	for i := 0; i < 2; i++ {
		_, err := h.svc.Forward(context.Background(), siteAdmin, ticket1, forwardToAdmin(domain.ReasonOther))
		require.NoError(t, err)
	}

	final := h.store.ticket(ticket1)
	assert.Equal(t, n+2, final.ReassignmentCount)
	assert.Nil(t, final.ProviderID)
	require.NotNil(t, final.ForwardedFromProviderID)
	assert.Equal(t, provider1, *final.ForwardedFromProviderID)

	evts, err := h.svc.ListEvents(context.Background(), siteAdmin, ticket1)
	require.NoError(t, err)
	require.Len(t, evts, n+2)
	require.NoError(t, domain.VerifyChain(evts))

	state, err := domain.Replay(evts)
	require.NoError(t, err)
	assert.True(t, state.Equal(final.Snapshot()))
}

func TestReassign_RequiresSiteAdmin(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Reassign(context.Background(), p1Contact, ticket1, ReassignInput{TargetProviderID: provider2})

	assertCode(t, err, apperrors.CodeForbidden)
}

func TestReassign_TargetContactAndPreserveHistory(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Forward(context.Background(), p1Contact, ticket1, forwardToAdmin(domain.ReasonCapacity))
	require.NoError(t, err)

	got, err := h.svc.Reassign(context.Background(), siteAdmin, ticket1, ReassignInput{
		TargetProviderID: provider2,
		TargetContactID:  strPtr(memberP2),
		PreserveHistory:  true,
		Notes:            strPtr("  <b>call back</b> tomorrow "),
	})
	require.NoError(t, err)

	assert.Equal(t, "user-p2-admin", *got.AssignedTo)
	require.NotNil(t, got.ForwardedFromProviderID)
	assert.Equal(t, provider1, *got.ForwardedFromProviderID)

	e := h.store.eventsFor(ticket1)[1]
	assert.Equal(t, domain.EventTypeReassigned, e.EventType)
	assert.Equal(t, domain.ActorTypeSiteAdmin, e.ActorType)
	assert.Nil(t, e.Reason)
	require.NotNil(t, e.Notes)
	assert.Equal(t, "call back tomorrow", *e.Notes)
	assert.True(t, e.Metadata.PreserveHistory)
}

func TestReassign_ContactMustBelongToTarget(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Reassign(context.Background(), siteAdmin, ticket1, ReassignInput{
		TargetProviderID: provider2,
		TargetContactID:  strPtr(contactP3),
	})

	assertCode(t, err, apperrors.CodeValidation)
	assert.Empty(t, h.store.eventsFor(ticket1))
}

func TestAssignContact(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Reassign(context.Background(), siteAdmin, ticket1, ReassignInput{TargetProviderID: provider2})
	require.NoError(t, err)
	h.withDefaultHandler()

	got, err := h.svc.AssignContact(context.Background(), p2Admin, ticket1, AssignInput{ContactID: handlerP2})
	require.NoError(t, err)

	assert.Equal(t, "user-p2-handler", *got.AssignedTo)
	assert.Equal(t, provider2, *got.ProviderID)
	assert.Equal(t, 1, got.ReassignmentCount)
	evts := h.store.eventsFor(ticket1)
	require.Len(t, evts, 2)
	assert.Equal(t, domain.EventTypeAssigned, evts[1].EventType)
}

func TestAssignContact_RequiresProviderAdmin(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.AssignContact(context.Background(), p1Contact, ticket1, AssignInput{ContactID: contactP1})
	assertCode(t, err, apperrors.CodeForbidden)

	_, err = h.svc.AssignContact(context.Background(), siteAdmin, ticket1, AssignInput{ContactID: memberP2})
	assertCode(t, err, apperrors.CodeValidation)
}

func TestListEvents_Authorization(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Forward(context.Background(), p1Contact, ticket1, forwardToProvider(provider2))
	require.NoError(t, err)

	_, err = h.svc.ListEvents(context.Background(), p1Contact, ticket1)
	assertCode(t, err, apperrors.CodeForbidden)

	evts, err := h.svc.ListEvents(context.Background(), p2Admin, ticket1)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestForward_Unauthenticated(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Forward(context.Background(), domain.Identity{}, ticket1, forwardToAdmin(domain.ReasonOther))
	assertCode(t, err, apperrors.CodeUnauthorized)
}
