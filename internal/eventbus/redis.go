// Package eventbus forwards engine events to a Redis stream so other
// processes can follow plan execution.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/logging"
)

// DefaultStream is the stream key events are appended to.
const DefaultStream = "orchestra:events"

// MaxStreamLength caps the stream (approximately) so it does not grow unbounded.
const MaxStreamLength = 10000

// Publisher appends engine events to a Redis stream.
type Publisher struct {
	client *redis.Client
	stream string
	log    *logging.Logger
}

// NewPublisher wraps an existing client.
func NewPublisher(client *redis.Client, stream string, log *logging.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Publisher{client: client, stream: stream, log: log.WithComponent("eventbus")}
}

// NewPublisherFromURL connects to the Redis server at redisURL and checks it responds.
func NewPublisherFromURL(ctx context.Context, redisURL, stream string, log *logging.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	p := NewPublisher(client, stream, log)
	p.log.Info("connected to redis", "addr", opts.Addr, "stream", p.stream)
	return p, nil
}

// Stream returns the stream key.
func (p *Publisher) Stream() string {
	return p.stream
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Publish appends one event and returns its stream ID.
func (p *Publisher) Publish(ctx context.Context, ev orchestrator.Event) (string, error) {
	values, err := encode(ev)
	if err != nil {
		return "", err
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: MaxStreamLength,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// Run publishes events until the channel closes or ctx is done.
// Publish failures are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, events <-chan orchestrator.Event) error {
	var failures int
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := p.Publish(ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				failures++
				if failures%10 == 1 {
					p.log.WithError(err).Warn("event publish failed", "type", ev.Type, "failures", failures)
				}
			}
		}
	}
}

// Read returns up to count events after fromID ("" reads from the start).
func (p *Publisher) Read(ctx context.Context, fromID string, count int64) ([]orchestrator.Event, string, error) {
	start := "-"
	if fromID != "" {
		start = "(" + fromID
	}
	msgs, err := p.client.XRangeN(ctx, p.stream, start, "+", count).Result()
	if err != nil {
		return nil, fromID, fmt.Errorf("read events: %w", err)
	}

	last := fromID
	events := make([]orchestrator.Event, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := decode(msg.Values)
		if err != nil {
			p.log.WithError(err).Warn("skipping malformed event", "id", msg.ID)
			last = msg.ID
			continue
		}
		events = append(events, ev)
		last = msg.ID
	}
	return events, last, nil
}

// tailBatch is how many entries Tail reads per round trip.
const tailBatch = 100

// Tail calls fn for every event after fromID. With a positive interval it
// keeps polling for new entries until ctx is done; otherwise it returns once
// the stream is drained.
func (p *Publisher) Tail(ctx context.Context, fromID string, interval time.Duration, fn func(orchestrator.Event) error) error {
	last := fromID
	for {
		events, next, err := p.Read(ctx, last, tailBatch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		last = next
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
		if len(events) == tailBatch {
			continue
		}
		if interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func encode(ev orchestrator.Event) (map[string]any, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]any{
		"type":      string(ev.Type),
		"plan_id":   ev.PlanID,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      string(data),
	}, nil
}

func decode(values map[string]any) (orchestrator.Event, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return orchestrator.Event{}, fmt.Errorf("event has no data field")
	}
	var ev orchestrator.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return orchestrator.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}
