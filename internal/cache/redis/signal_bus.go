package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/pancholabs/pancho-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

// busNamespace prefixes every bus channel and stream. The engine shares one
// Redis database between the bus, the per-round locks, the round cache, and
// the rate-limit windows, so bus keys carry their own namespace.
const busNamespace = "pancho:"

// eventField is the stream entry field holding the serialized engine event.
const eventField = "event"

// streamMaxLen bounds each event stream via XADD MAXLEN ~. At one entry per
// state-changing operation this retains hours of round history for replay.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus on Redis: Pub/Sub fans engine events
// out to live subscribers (the WebSocket hub, the notify listener), and a
// stream per channel keeps a bounded replayable history of the same events.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

func busKey(name string) string {
	return busNamespace + name
}

// Publish sends a serialized engine event to a Pub/Sub channel. Delivery is
// at-most-once; the durable copy lives in the channel's stream.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, busKey(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a read-only channel
// of raw event payloads. The subscription closes with the context, and the
// returned channel is closed at that point as well.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, busKey(channel))
	} else {
		pubsub = sb.rdb.Subscribe(ctx, busKey(channel))
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	// Buffered for settlement bursts: a keeper pass settling a batch of
	// expired rounds emits one event per round in quick succession.
	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern reports whether the channel name includes glob-style wildcards,
// in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends an event payload to a stream with approximate MAXLEN
// trimming.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: busKey(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			eventField: payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count events from a stream starting after lastID.
// Use "0" or "0-0" as lastID to replay from the beginning, or "$" to read
// only new events. It returns an empty slice (not an error) when no events
// are available.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{busKey(stream), lastID},
		Count:   int64(count),
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values[eventField]
			if !ok {
				continue
			}

			var data []byte
			switch v := payload.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			messages = append(messages, domain.StreamMessage{
				ID:      msg.ID,
				Payload: data,
			})
		}
	}

	return messages, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
