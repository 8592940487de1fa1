package notifications

import (
	"context"
	"testing"
	"time"

	"registry/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishRequestEvent(context.Background(), RequestEvent{Family: models.FamilyCopy, RequestID: 1}))
	assert.NoError(t, n.StartRequestSubscriber(context.Background(), func(string, RequestEvent) {}))
	n.Notify(context.Background(), RequestEvent{})
}

func TestRequestChannel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "registry:copy:5", RequestChannel(models.FamilyCopy, 5))
	assert.Equal(t, "registry:deletion:12", RequestChannel(models.FamilyDeletion, 12))
}

func TestNotifier_PublishAndSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type received struct {
		channel string
		ev      RequestEvent
	}
	events := make(chan received, 4)
	require.NoError(t, n.StartRequestSubscriber(ctx, func(channel string, ev RequestEvent) {
		events <- received{channel, ev}
	}))

	broadcast := rdb.Subscribe(ctx, BroadcastChannel)
	defer func() { _ = broadcast.Close() }()
	_, err = broadcast.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, n.PublishRequestEvent(context.Background(), RequestEvent{
		Family: models.FamilyDeletion, RequestID: 9, Status: models.StatusCancelled, Event: EventCancelled,
	}))

	select {
	case got := <-events:
		assert.Equal(t, "registry:deletion:9", got.channel)
		assert.Equal(t, uint(9), got.ev.RequestID)
		assert.Equal(t, models.StatusCancelled, got.ev.Status)
		assert.Equal(t, EventCancelled, got.ev.Event)
		assert.NotZero(t, got.ev.At)
	case <-time.After(time.Second):
		t.Fatal("no event on the request channel")
	}

	msg, err := broadcast.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"request_id":9`)
}

func TestNotifier_PublishFailureIsReported(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = rdb.Close() }()
	mr.Close()

	n := NewNotifier(rdb)
	err = n.PublishRequestEvent(context.Background(), RequestEvent{Family: models.FamilyCopy, RequestID: 1})
	assert.Error(t, err)
	n.Notify(context.Background(), RequestEvent{Family: models.FamilyCopy, RequestID: 1})
}
