package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Storage is the read/write surface BreakerStore decorates.
type Storage interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key, contentType string, body []byte) error
}

// BreakerConfig tunes the write circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive write failures that
	// opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig suits a long-running worker writing to one bucket.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 10,
	OpenTimeout:      30 * time.Second,
}

// BreakerStore fails variant writes fast while the destination is
// persistently failing. Reads pass straight through: a fetch failure is
// already fatal and redelivered by the queue.
type BreakerStore struct {
	next Storage
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerStore wraps next with a write circuit breaker.
func NewBreakerStore(next Storage, cfg BreakerConfig) *BreakerStore {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig.OpenTimeout
	}
	settings := gobreaker.Settings{
		Name:        "s3-variant-writes",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}
	return &BreakerStore{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Fetch delegates to the wrapped store.
func (b *BreakerStore) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return b.next.Fetch(ctx, bucket, key)
}

// Put writes through the breaker. While open it returns immediately with
// gobreaker.ErrOpenState wrapped.
func (b *BreakerStore) Put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Put(ctx, bucket, key, contentType, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("destination writes suspended: %w", err)
	}
	return err
}

// State reports the breaker state for health checks.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}
