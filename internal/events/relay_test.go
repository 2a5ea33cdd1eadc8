package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civicledger/approvald/internal/models"
)

type memoryOutbox struct {
	events    []*models.Event
	delivered map[string]time.Time
}

func newMemoryOutbox(ids ...string) *memoryOutbox {
	o := &memoryOutbox{delivered: make(map[string]time.Time)}
	for _, id := range ids {
		o.events = append(o.events, &models.Event{
			ID:         id,
			Type:       models.EventTypeWorkflowUpdated,
			EntityType: models.EntityTypeWorkflow,
			EntityID:   "AP-1",
		})
	}
	return o
}

func (o *memoryOutbox) ListUndelivered(_ context.Context, limit int) ([]*models.Event, error) {
	var out []*models.Event
	for _, e := range o.events {
		if _, ok := o.delivered[e.ID]; ok {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o *memoryOutbox) MarkDelivered(_ context.Context, ids []string, at time.Time) (int64, error) {
	for _, id := range ids {
		o.delivered[id] = at
	}
	return int64(len(ids)), nil
}

type flakySink struct {
	failOn string
	seen   []string
}

func (s *flakySink) Publish(_ context.Context, event *models.Event) error {
	if event.ID == s.failOn {
		return errors.New("unavailable")
	}
	s.seen = append(s.seen, event.ID)
	return nil
}

func TestRelayDrainDeliversInOrder(t *testing.T) {
	outbox := newMemoryOutbox("e1", "e2", "e3")
	sink := &flakySink{}
	relay := NewRelay(outbox, sink, RelayConfig{BatchSize: 2})

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"e1", "e2"}, sink.seen)

	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, outbox.delivered, 3)
}

func TestRelayDrainStopsOnFailure(t *testing.T) {
	outbox := newMemoryOutbox("e1", "e2", "e3")
	sink := &flakySink{failOn: "e2"}
	relay := NewRelay(outbox, sink, RelayConfig{})

	n, err := relay.Drain(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, outbox.delivered, "e1")
	require.NotContains(t, outbox.delivered, "e3")

	sink.failOn = ""
	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"e1", "e2", "e3"}, sink.seen)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	outbox := newMemoryOutbox("e1")
	pub := NewInMemoryPublisher()
	received := make(chan string, 1)
	require.NoError(t, pub.Subscribe("test", Filter{}, func(event *models.Event) {
		received <- event.ID
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewRelay(outbox, pub, RelayConfig{Interval: 10 * time.Millisecond}).Run(ctx)
	}()

	select {
	case id := <-received:
		require.Equal(t, "e1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
