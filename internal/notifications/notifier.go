// Package notifications publishes request lifecycle events over Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"registry/internal/middleware"
	"registry/internal/models"
	"registry/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Lifecycle event kinds.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventCancelled = "cancelled"
)

// BroadcastChannel receives every lifecycle event.
const BroadcastChannel = "registry:requests"

// RequestEvent is the payload published after a request changes.
type RequestEvent struct {
	Family    models.Family        `json:"family"`
	RequestID uint                 `json:"request_id"`
	Status    models.RequestStatus `json:"status"`
	Event     string               `json:"event"`
	At        int64                `json:"at"`
}

// RequestChannel derives the Redis channel name for one request.
func RequestChannel(family models.Family, requestID uint) string {
	return "registry:" + string(family) + ":" + strconv.FormatUint(uint64(requestID), 10)
}

// Notifier provides helpers to publish lifecycle events into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns every publish into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishRequestEvent sends ev to the request's own channel and the broadcast channel.
func (n *Notifier) PublishRequestEvent(ctx context.Context, ev RequestEvent) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	if ev.At == 0 {
		ev.At = time.Now().UTC().Unix()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := n.rdb.Pipeline()
	pipe.Publish(ctx, RequestChannel(ev.Family, ev.RequestID), payload)
	pipe.Publish(ctx, BroadcastChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.RedisErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Notify publishes ev and logs instead of failing. Lifecycle events are best effort.
func (n *Notifier) Notify(ctx context.Context, ev RequestEvent) {
	if err := n.PublishRequestEvent(ctx, ev); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish request event",
			slog.String("family", string(ev.Family)),
			slog.Uint64("request_id", uint64(ev.RequestID)),
			slog.String("error", err.Error()),
		)
	}
}

// StartRequestSubscriber subscribes to every lifecycle channel and calls
// onEvent for each decoded event until ctx ends. Undecodable payloads are
// logged and skipped.
func (n *Notifier) StartRequestSubscriber(
	ctx context.Context, onEvent func(channel string, ev RequestEvent),
) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "registry:copy:*", "registry:deletion:*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev RequestEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					middleware.Logger.Warn("dropping undecodable request event",
						slog.String("channel", msg.Channel), slog.String("error", err.Error()))
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in request subscriber",
								slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
						}
					}()
					onEvent(msg.Channel, ev)
				}()
			}
		}
	}()

	return nil
}
