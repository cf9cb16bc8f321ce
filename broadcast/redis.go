package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel events travel on between processes.
const DefaultChannel = "jurisflow:events"

var errSubscriptionClosed = errors.New("broadcast: redis subscription closed")

// RedisRelay extends a local Hub across processes. Events published through
// the relay go to Redis, and Run feeds everything seen on the channel into the
// local hub. While this process is not subscribed, events it publishes are
// also delivered locally.
type RedisRelay struct {
	client     redis.UniversalClient
	channel    string
	hub        *Hub
	logger     *slog.Logger
	timeout    time.Duration
	retryMin   time.Duration
	retryMax   time.Duration
	subscribed atomic.Bool
}

// NewRedisRelay wires hub to the given Redis channel.
func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client:   client,
		channel:  channel,
		hub:      hub,
		logger:   logger,
		timeout:  2 * time.Second,
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
}

// Subscribed reports whether Run currently holds a live subscription.
func (r *RedisRelay) Subscribed() bool { return r.subscribed.Load() }

// Publish sends evt to every process. If Redis is unreachable the event is
// still delivered to this process's observers.
func (r *RedisRelay) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error("broadcast: marshal event", "error", err, "event_type", evt.Type)
		r.hub.Publish(evt)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		r.logger.Warn("broadcast: redis publish failed, delivering locally", "error", err, "event_type", evt.Type, "case_id", evt.CaseID)
		r.hub.Publish(evt)
		return
	}
	if !r.subscribed.Load() {
		r.hub.Publish(evt)
	}
}

// Run relays channel messages into the local hub until ctx is cancelled. A
// failed or dropped subscription is retried with exponential backoff.
func (r *RedisRelay) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryMin
	b.MaxInterval = r.retryMax
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := r.relay(ctx, b.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		r.logger.Warn("broadcast: redis subscription unavailable, retrying", "error", err, "retry_in", wait)
	})
}

func (r *RedisRelay) relay(ctx context.Context, onSubscribed func()) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("broadcast: subscribe %s: %w", r.channel, err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	onSubscribed()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errSubscriptionClosed
			}
			evt, err := decodeEvent(msg.Payload)
			if err != nil {
				r.logger.Warn("broadcast: discarding malformed event", "error", err)
				continue
			}
			r.hub.Publish(evt)
		}
	}
}

func decodeEvent(payload string) (Event, error) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return Event{}, fmt.Errorf("broadcast: decode event: %w", err)
	}
	if evt.Type == "" || evt.CaseID == "" {
		return Event{}, fmt.Errorf("broadcast: event missing type or case id")
	}
	return evt, nil
}
