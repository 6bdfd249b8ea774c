package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyChain_AndReplay(t *testing.T) {
	now := time.Now()
	t0 := assignedTicket("p1")
	t1 := PlanForwardToAdmin(t0, nil, now).Apply(t0)
	t2 := PlanForwardToProvider(t1, "p2", nil, now).Apply(t1)

	events := []TicketEvent{
		{ID: "e1", Seq: 10, PreviousState: t0.Snapshot(), NewState: t1.Snapshot()},
		{ID: "e2", Seq: 11, PreviousState: t1.Snapshot(), NewState: t2.Snapshot()},
	}

	require.NoError(t, VerifyChain(events))
	state, err := Replay(events)
	require.NoError(t, err)
	assert.True(t, state.Equal(t2.Snapshot()))
	assert.Equal(t, 2, state.ReassignmentCount)
}

func TestVerifyChain_DetectsGap(t *testing.T) {
	now := time.Now()
	t0 := assignedTicket("p1")
	t1 := PlanForwardToAdmin(t0, nil, now).Apply(t0)

	events := []TicketEvent{
		{ID: "e1", Seq: 1, PreviousState: t0.Snapshot(), NewState: t1.Snapshot()},
		{ID: "e2", Seq: 2, PreviousState: t0.Snapshot(), NewState: t1.Snapshot()},
	}

	assert.Error(t, VerifyChain(events))
}

func TestVerifyChain_DetectsOrdering(t *testing.T) {
	snap := assignedTicket("p1").Snapshot()
	events := []TicketEvent{
		{ID: "e1", Seq: 5, PreviousState: snap, NewState: snap},
		{ID: "e2", Seq: 4, PreviousState: snap, NewState: snap},
	}

	assert.Error(t, VerifyChain(events))
}

func TestReplay_Empty(t *testing.T) {
	_, err := Replay(nil)
	assert.Error(t, err)
}

func TestEnumsValidate(t *testing.T) {
	assert.True(t, ReasonCapacity.IsValid())
	assert.False(t, ForwardReason("busy").IsValid())
	assert.True(t, EventTypeForwarded.IsValid())
	assert.False(t, EventType("deleted").IsValid())
	assert.True(t, ActorTypeSystem.IsValid())
	assert.True(t, TicketStatusUnresponsive.IsValid())
	assert.False(t, TicketStatus("OPEN").IsValid())
}

func TestIdentityActorType(t *testing.T) {
	assert.Equal(t, ActorTypeSiteAdmin, Identity{UserID: "u", IsSiteAdmin: true}.ActorType())
	assert.Equal(t, ActorTypeProviderContact, Identity{UserID: "u"}.ActorType())
}
