package broadcast

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRelayFallsBackToLocalDelivery(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	relay := NewRedisRelay(client, "", hub, nil)
	relay.Publish(Event{Type: TypeSurrender, CaseID: "case-1", Side: "defense"})

	select {
	case evt := <-sub.C():
		assert.Equal(t, TypeSurrender, evt.Type)
		assert.Equal(t, "defense", evt.Side)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered locally")
	}
}

// publishAccepted answers PUBLISH without a server so the relay sees a
// successful publish while its subscription still cannot connect.
type publishAccepted struct{}

func (publishAccepted) DialHook(next redis.DialHook) redis.DialHook { return next }

func (publishAccepted) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "publish" {
			return nil
		}
		return next(ctx, cmd)
	}
}

func (publishAccepted) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisRelayDeliversLocallyUntilSubscribed(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	client.AddHook(publishAccepted{})

	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	relay := NewRedisRelay(client, "", hub, nil)
	relay.retryMin = 10 * time.Millisecond
	relay.retryMax = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// several subscribe attempts fail; Run must keep retrying
	time.Sleep(150 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned while redis was unreachable: %v", err)
	default:
	}
	require.False(t, relay.Subscribed())

	relay.Publish(Event{Type: TypeArgument, CaseID: "case-2", Side: "plaintiff"})
	select {
	case evt := <-sub.C():
		assert.Equal(t, TypeArgument, evt.Type)
		assert.Equal(t, "case-2", evt.CaseID)
	case <-time.After(2 * time.Second):
		t.Fatal("published event never reached local observers")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestDecodeEvent(t *testing.T) {
	evt, err := decodeEvent(`{"type":"argument","caseId":"c-1","argumentType":"counter"}`)
	require.NoError(t, err)
	assert.Equal(t, TypeArgument, evt.Type)
	assert.Equal(t, "counter", evt.ArgumentType)

	_, err = decodeEvent(`{"type":"argument"}`)
	assert.Error(t, err)
	_, err = decodeEvent(`not json`)
	assert.Error(t, err)
}

// TestRedisRelay_Integration needs a live Redis at REDIS_ADDR.
func TestRedisRelay_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is empty; set it to a live Redis to run integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	channel := "jurisflow:test:" + time.Now().Format("150405.000000000")
	relay := NewRedisRelay(client, channel, hub, nil)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go relay.Run(runCtx)

	// Wait until the relay's subscription is live.
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] > 0
	}, 5*time.Second, 20*time.Millisecond)

	relay.Publish(Event{Type: TypeVerdict, CaseID: "case-9", VerdictID: "v-9"})

	select {
	case evt := <-sub.C():
		assert.Equal(t, "v-9", evt.VerdictID)
	case <-ctx.Done():
		t.Fatal("relayed event not received")
	}
}
