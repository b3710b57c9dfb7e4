package events

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/kestrel/pkg/storage"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	es, err := New(storage.NewMemStore(), time.Hour, 1000)
	require.NoError(t, err)
	es.Start()
	t.Cleanup(es.Stop)
	return es
}

func TestEmitAssignsMonotonicIDs(t *testing.T) {
	es := newTestStore(t)

	first, err := es.Emit(context.Background(), "acme", types.EventServiceDeployed, "acme/svc", nil, nil)
	require.NoError(t, err)
	second, err := es.Emit(context.Background(), "acme", types.EventServiceDeployed, "acme/svc", nil, nil)
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, second.ID, es.LastID())
}

func TestEmitRejectsUnsupportedPayloadValues(t *testing.T) {
	es := newTestStore(t)

	_, err := es.Emit(context.Background(), "acme", types.EventServiceDeployed, "acme/svc", types.Payload{
		"bad": struct{}{},
	}, nil)

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))
}

func TestSubscribeOnlyDeliversMatchingEvents(t *testing.T) {
	es := newTestStore(t)

	sub := es.Subscribe(Filter{Tenant: "acme"})
	defer sub.Close()

	_, err := es.Emit(context.Background(), "other", types.EventServiceDeployed, "other/svc", nil, nil)
	require.NoError(t, err)
	_, err = es.Emit(context.Background(), "acme", types.EventServiceDeployed, "acme/svc", nil, nil)
	require.NoError(t, err)

	select {
	case e := <-sub.Events:
		assert.Equal(t, types.TenantID("acme"), e.TenantID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}

	select {
	case e := <-sub.Events:
		t.Fatalf("unexpected second event delivered: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSinceReturnsEventsFromIDOnward(t *testing.T) {
	es := newTestStore(t)

	_, err := es.Emit(context.Background(), "acme", types.EventServiceDeployed, "acme/svc", nil, nil)
	require.NoError(t, err)
	second, err := es.Emit(context.Background(), "acme", types.EventServiceDeployed, "acme/svc", nil, nil)
	require.NoError(t, err)

	got := es.Since(second.ID, Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)
}

func TestEmitDegradesRatherThanFailingOnPersistError(t *testing.T) {
	es, err := New(&failingStore{}, time.Hour, 1000)
	require.NoError(t, err)
	es.Start()
	defer es.Stop()

	sub := es.Subscribe(Filter{Tenant: "acme"})
	defer sub.Close()

	event, err := es.Emit(context.Background(), "acme", types.EventServiceDeployed, "acme/svc", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, types.EventServiceDeployed, event.EventType)

	select {
	case first := <-sub.Events:
		assert.Equal(t, types.EventServiceDeployed, first.EventType)
	case <-time.After(time.Second):
		t.Fatal("original event was not delivered")
	}

	select {
	case degraded := <-sub.Events:
		assert.Equal(t, types.EventStorageDegraded, degraded.EventType)
	case <-time.After(time.Second):
		t.Fatal("storage_degraded event was not emitted")
	}
}

// failingStore always fails AppendEvent, exercising the degraded-event path.
type failingStore struct{ storage.MemStore }

func (f *failingStore) AppendEvent(*types.Event) error {
	return assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "simulated append failure" }
