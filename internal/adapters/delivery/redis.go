// Package delivery provides the Redis-backed delivery source for the job runner.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBlockTimeout = 5 * time.Second

// QueueSource consumes delivery references from a Redis list. Messages are
// opaque bodies; decoding happens in the batch coordinator so one malformed
// message cannot poison the transport.
//
// Popping a message acknowledges it: Redis lists give at-most-once handoff
// per pop, and the runner's claim protocol makes duplicate deliveries (from
// producer retries) safe.
type QueueSource struct {
	client redis.UniversalClient
	key    string
	block  time.Duration
}

// QueueSourceOptions configures a QueueSource.
type QueueSourceOptions struct {
	Client redis.UniversalClient
	Key    string
	// Block is how long Next waits for the first message before returning an
	// empty batch; defaults to 5s.
	Block time.Duration
}

// NewQueueSource creates a QueueSource for the given list key.
func NewQueueSource(opts QueueSourceOptions) (*QueueSource, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Key == "" {
		return nil, errors.New("queue key is required")
	}
	block := opts.Block
	if block <= 0 {
		block = defaultBlockTimeout
	}
	return &QueueSource{client: opts.Client, key: opts.Key, block: block}, nil
}

// Next blocks up to the configured window for the first message, then drains
// up to max-1 further messages without blocking. Returns nil, nil when the
// window elapses with nothing delivered.
func (s *QueueSource) Next(ctx context.Context, max int) ([][]byte, error) {
	if max < 1 {
		max = 1
	}

	vals, err := s.client.BLPop(ctx, s.block, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop delivery: %w", err)
	}
	// BLPop returns [key, value].
	if len(vals) != 2 {
		return nil, fmt.Errorf("pop delivery: unexpected reply length %d", len(vals))
	}

	bodies := [][]byte{[]byte(vals[1])}
	if max == 1 {
		return bodies, nil
	}

	rest, err := s.client.LPopCount(ctx, s.key, max-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		// Deliver what we already popped; the remainder stays queued.
		return bodies, nil
	}
	for _, v := range rest {
		bodies = append(bodies, []byte(v))
	}
	return bodies, nil
}

// Publish appends a message body to the delivery list. Used by development
// seeding and tests; production enqueueing is an external producer's job.
func (s *QueueSource) Publish(ctx context.Context, body []byte) error {
	if err := s.client.RPush(ctx, s.key, body).Err(); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}
