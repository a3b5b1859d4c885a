package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/attendance"
	"qrattendance/internal/attendance/memstore"
	"qrattendance/internal/queue"
)

func TestPublishedEventsArePersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(8)
	store := memstore.New()
	pub := NewPublisher(q, nil)
	consumer := NewConsumer(q, store, nil, nil)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	pub.Publish(ctx, attendance.ScanEvent{DeviceID: "kiosk-1", StudentID: "2023300076", Decision: "check_in"})
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other", Body: []byte(`{}`)}))
	pub.Publish(ctx, attendance.ScanEvent{DeviceID: "kiosk-1", Decision: "busy"})

	require.Eventually(t, func() bool {
		events, err := store.ListScanEvents(ctx, "kiosk-1", "", 10, 0)
		return err == nil && len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events, err := store.ListScanEvents(ctx, "", "2023300076", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].OccurredAt.IsZero())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), attendance.ScanEvent{})
	NewPublisher(nil, nil).Publish(context.Background(), attendance.ScanEvent{})
}
