package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/kestrel/pkg/log"
	"github.com/cuemby/kestrel/pkg/storage"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/rs/zerolog"
)

// Filter narrows a subscription or a Since query. Zero-value fields
// mean "match everything" for that dimension.
type Filter struct {
	Tenant  types.TenantID
	Subject string
	Types   []types.EventType
}

func (f Filter) matches(e *types.Event) bool {
	if f.Tenant != "" && e.TenantID != f.Tenant {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if e.EventType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Subscription is a live feed of events matching Filter, delivered
// in order on Events. The store drops events for a subscriber whose
// channel is full rather than blocking the single writer.
type Subscription struct {
	id     uint64
	Events chan *types.Event
	filter Filter
	store  *EventStore
}

// Close stops delivery and releases the subscription's slot.
func (s *Subscription) Close() {
	s.store.unsubscribe(s.id)
}

// EventStore is the single-writer, multi-reader, totally-ordered
// append-only event log. All state mutation happens on one goroutine
// reached through a command channel, so there is never a lock to take
// or a nested-lock deadlock to avoid — the actor pattern the rest of
// Kestrel's core components follow.
type EventStore struct {
	store     storage.Store
	retention time.Duration
	maxKept   int
	nextID    atomic.Int64

	cmdCh  chan any
	stopCh chan struct{}
	ticker *time.Ticker

	logger zerolog.Logger
}

type emitCmd struct {
	tenant      types.TenantID
	eventType   types.EventType
	subject     string
	payload     types.Payload
	causationID *int64
	resp        chan emitResult
}

type emitResult struct {
	event *types.Event
	err   error
}

type lastIDCmd struct{ resp chan int64 }

type subscribeCmd struct {
	filter Filter
	resp   chan *Subscription
}

type unsubscribeCmd struct{ id uint64 }

type sinceCmd struct {
	since  int64
	filter Filter
	resp   chan []*types.Event
}

type flushCmd struct{ resp chan error }

type trimCmd struct{}

// New constructs an EventStore over store, replaying any previously
// persisted events to recover nextID. retention events older than
// retentionWindow are trimmed every sweep, bounded additionally by
// maxKept total retained events, whichever is stricter.
func New(store storage.Store, retentionWindow time.Duration, maxKept int) (*EventStore, error) {
	existing, err := store.LoadEvents()
	if err != nil {
		return nil, err
	}

	es := &EventStore{
		store:     store,
		retention: retentionWindow,
		maxKept:   maxKept,
		cmdCh:     make(chan any, 256),
		stopCh:    make(chan struct{}),
		logger:    log.WithComponent("events"),
	}
	es.nextID.Store(nextIDAfter(existing))
	return es, nil
}

func nextIDAfter(events []*types.Event) int64 {
	var max int64
	for _, e := range events {
		if e.ID > max {
			max = e.ID
		}
	}
	return max + 1
}

// Start launches the actor goroutine and the retention-sweep ticker.
func (es *EventStore) Start() {
	es.ticker = time.NewTicker(1 * time.Minute)
	go es.run()
}

// Stop halts the actor goroutine. Pending commands are dropped.
func (es *EventStore) Stop() {
	close(es.stopCh)
}

func (es *EventStore) run() {
	subs := make(map[uint64]*Subscription)
	var nextSubID uint64
	buffer := make([]*types.Event, 0, 1024)

	for {
		select {
		case <-es.stopCh:
			if es.ticker != nil {
				es.ticker.Stop()
			}
			return

		case <-es.ticker.C:
			buffer = es.trim(buffer)

		case raw := <-es.cmdCh:
			switch cmd := raw.(type) {
			case emitCmd:
				id := es.nextID.Add(1) - 1
				event := &types.Event{
					ID:          id,
					Timestamp:   time.Now().UnixNano(),
					WallClock:   time.Now().UTC(),
					TenantID:    cmd.tenant,
					EventType:   cmd.eventType,
					Subject:     cmd.subject,
					Payload:     cmd.payload,
					CausationID: cmd.causationID,
				}
				degraded := false
				if err := es.store.AppendEvent(event); err != nil {
					es.logger.Error().Err(err).Msg("failed to persist event, continuing with in-memory record")
					degraded = true
				}
				buffer = append(buffer, event)
				for _, sub := range subs {
					if !sub.filter.matches(event) {
						continue
					}
					select {
					case sub.Events <- event:
					default:
						es.logger.Warn().Uint64("subscription_id", sub.id).Msg("dropping event, subscriber buffer full")
					}
				}
				cmd.resp <- emitResult{event: event}

				// Emit is infallible from the caller's perspective: a
				// persistence failure never surfaces as an error return,
				// it surfaces as a storage_degraded event instead.
				if degraded {
					degradedID := es.nextID.Add(1) - 1
					degradedEvent := &types.Event{
						ID:        degradedID,
						Timestamp: time.Now().UnixNano(),
						WallClock: time.Now().UTC(),
						TenantID:  event.TenantID,
						EventType: types.EventStorageDegraded,
						Subject:   event.Subject,
						Payload: types.Payload{
							"cause":          "append_failed",
							"original_event": event.ID,
							"original_type":  string(event.EventType),
						},
						CausationID: &event.ID,
					}
					_ = es.store.AppendEvent(degradedEvent)
					buffer = append(buffer, degradedEvent)
					for _, sub := range subs {
						if !sub.filter.matches(degradedEvent) {
							continue
						}
						select {
						case sub.Events <- degradedEvent:
						default:
							es.logger.Warn().Uint64("subscription_id", sub.id).Msg("dropping event, subscriber buffer full")
						}
					}
				}

			case lastIDCmd:
				cmd.resp <- es.nextID.Load() - 1

			case subscribeCmd:
				nextSubID++
				sub := &Subscription{
					id:     nextSubID,
					Events: make(chan *types.Event, 128),
					filter: cmd.filter,
					store:  es,
				}
				subs[sub.id] = sub
				cmd.resp <- sub

			case unsubscribeCmd:
				if sub, ok := subs[cmd.id]; ok {
					close(sub.Events)
					delete(subs, cmd.id)
				}

			case sinceCmd:
				var out []*types.Event
				for _, e := range buffer {
					if e.ID >= cmd.since && cmd.filter.matches(e) {
						out = append(out, e)
					}
				}
				cmd.resp <- out

			case flushCmd:
				// bbolt fsyncs every Update transaction, so by the time
				// AppendEvent's call returns the record is durable. This
				// command exists as an explicit barrier: it only returns
				// once every command enqueued before it has been applied.
				cmd.resp <- nil

			case trimCmd:
				buffer = es.trim(buffer)
			}
		}
	}
}

// validatePayload rejects payload values outside the restricted set
// (string, bool, int64, float64, []string) so nothing non-serializable
// ever enters the log. []string is admitted alongside the scalars for
// payloads like capability grants that carry a permission set.
func validatePayload(payload types.Payload) error {
	for key, v := range payload {
		switch v.(type) {
		case string, bool, int64, float64:
			continue
		case []string:
			continue
		default:
			return types.NewError(types.ErrInvalidInput, fmt.Sprintf("event payload key %q has unsupported value type %T", key, v))
		}
	}
	return nil
}

func (es *EventStore) trim(buffer []*types.Event) []*types.Event {
	cutoff := time.Now().Add(-es.retention)
	keepFrom := 0
	for i, e := range buffer {
		if e.WallClock.After(cutoff) {
			keepFrom = i
			break
		}
		keepFrom = i + 1
	}
	if len(buffer)-keepFrom > es.maxKept {
		keepFrom = len(buffer) - es.maxKept
	}
	if keepFrom <= 0 {
		return buffer
	}
	if len(buffer) > keepFrom {
		if err := es.store.TrimEventsBefore(buffer[keepFrom].ID); err != nil {
			es.logger.Error().Err(err).Msg("failed to trim event log")
			return buffer
		}
	}
	es.logger.Debug().Int("trimmed", keepFrom).Msg("retention sweep trimmed events")
	return append([]*types.Event{}, buffer[keepFrom:]...)
}

// Emit appends a new event to the log and fans it out to matching
// subscribers. It blocks until the event has been durably persisted.
// Enqueue is infallible: a failure to persist is logged and surfaced
// as a storage_degraded event rather than an error return. Emit
// returns an error only if the payload fails validation (InvalidInput)
// or ctx is canceled before the event is accepted.
func (es *EventStore) Emit(ctx context.Context, tenant types.TenantID, eventType types.EventType, subject string, payload types.Payload, causationID *int64) (*types.Event, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	resp := make(chan emitResult, 1)
	cmd := emitCmd{tenant: tenant, eventType: eventType, subject: subject, payload: payload, causationID: causationID, resp: resp}
	select {
	case es.cmdCh <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.event, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LastID returns the id of the most recently emitted event, or 0 if
// none have been emitted yet.
func (es *EventStore) LastID() int64 {
	resp := make(chan int64, 1)
	es.cmdCh <- lastIDCmd{resp: resp}
	return <-resp
}

// Subscribe opens a live feed of events matching filter. Callers must
// call Close on the returned Subscription to release its buffer.
func (es *EventStore) Subscribe(filter Filter) *Subscription {
	resp := make(chan *Subscription, 1)
	es.cmdCh <- subscribeCmd{filter: filter, resp: resp}
	return <-resp
}

func (es *EventStore) unsubscribe(id uint64) {
	es.cmdCh <- unsubscribeCmd{id: id}
}

// Since returns every retained event with id >= since matching
// filter, in ascending order. Events older than the retention window
// are no longer retrievable this way; archival to cold storage is out
// of scope for this store.
func (es *EventStore) Since(since int64, filter Filter) []*types.Event {
	resp := make(chan []*types.Event, 1)
	es.cmdCh <- sinceCmd{since: since, filter: filter, resp: resp}
	return <-resp
}

// Flush blocks until every command enqueued before it has been
// applied by the actor goroutine, giving callers a durability barrier.
func (es *EventStore) Flush() error {
	resp := make(chan error, 1)
	es.cmdCh <- flushCmd{resp: resp}
	return <-resp
}
