package fanout

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// BreakerConfig tunes the circuit breaker in front of a publisher.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// PublishTimeout bounds a single publish.
	PublishTimeout time.Duration
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		PublishTimeout:   2 * time.Second,
	}
}

// Guarded wraps a Publisher so that a dead backbone fails fast instead of
// stalling every message send. Every failure is reported as ErrUnavailable.
type Guarded struct {
	next    Publisher
	cb      *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration
}

// NewGuarded wraps next with a circuit breaker.
func NewGuarded(next Publisher, cfg BreakerConfig) *Guarded {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}

	settings := gobreaker.Settings{
		Name:        "fanout-publish",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("fanout circuit breaker state changed")
		},
	}

	return &Guarded{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker[struct{}](settings),
		timeout: cfg.PublishTimeout,
	}
}

// Publish implements Publisher.
func (g *Guarded) Publish(ctx context.Context, channel string, ev Event) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		pctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return struct{}{}, g.next.Publish(pctx, channel, ev)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// State reports the breaker state for health output.
func (g *Guarded) State() string {
	return g.cb.State().String()
}
