package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/referral-service/internal/domain"
)

func TestHandlerResolver_NoneConfigured(t *testing.T) {
	store := newMemStore()
	r := NewHandlerResolver(memContacts{store}, nil)

	got, err := r.Resolve(context.Background(), provider2)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHandlerResolver_TieBreak(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.contacts = []domain.ProviderContact{
		{ID: "c-3", ProviderID: provider2, UserID: "late", IsDefaultReferralHandler: true, CreatedAt: base.Add(time.Minute)},
		{ID: "c-2", ProviderID: provider2, UserID: "second", IsDefaultReferralHandler: true, CreatedAt: base},
		{ID: "c-1", ProviderID: provider2, UserID: "first", IsDefaultReferralHandler: true, CreatedAt: base},
		{ID: "c-0", ProviderID: provider2, UserID: "not-flagged", CreatedAt: base.Add(-time.Hour)},
	}
	r := NewHandlerResolver(memContacts{store}, nil)

	got, err := r.Resolve(context.Background(), provider2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.UserID)
}

func TestAuthorizer(t *testing.T) {
	h := newHarness(t)
	a := NewAuthorizer(memContacts{h.store})
	ticket := h.store.ticket(ticket1)
	pool := &domain.Ticket{ID: ticket1}

	assert.NoError(t, a.Authorize(context.Background(), siteAdmin, pool))
	assert.NoError(t, a.Authorize(context.Background(), p1Contact, ticket))
	assertCode(t, a.Authorize(context.Background(), p3Contact, ticket), "FORBIDDEN")
	assertCode(t, a.Authorize(context.Background(), p1Contact, pool), "FORBIDDEN")

	assertCode(t, a.AuthorizeAssign(context.Background(), p1Contact, ticket), "FORBIDDEN")
	assertCode(t, RequireSiteAdmin(p1Contact), "FORBIDDEN")
	assert.NoError(t, RequireSiteAdmin(siteAdmin))
}

func TestEventRecorder_SanitizeNotes(t *testing.T) {
	r := NewEventRecorder()
	assert.Nil(t, r.SanitizeNotes(nil))
	assert.Nil(t, r.SanitizeNotes(strPtr("  <img src=x onerror=alert(1)> ")))
	got := r.SanitizeNotes(strPtr("<p>client moved</p>"))
	require.NotNil(t, got)
	assert.Equal(t, "client moved", *got)

	raw := `client said income < 2x & rent > $900; use "Tom's" number`
	got = r.SanitizeNotes(strPtr("  " + raw + "\n"))
	require.NotNil(t, got)
	assert.Equal(t, raw, *got)
}
