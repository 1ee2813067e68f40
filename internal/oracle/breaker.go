package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/metrics"
)

// BreakerConfig tunes the circuit breaker around the oracle
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32        // allowed through while half-open
	Interval     time.Duration // closed-state count reset
	Timeout      time.Duration // open duration before half-open
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig opens after 60% failures over at least 10 calls and retries after
// two minutes
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "oracle",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Breaker wraps an Oracle with a circuit breaker. Rejected calls return ErrUnavailable so
// callers treat them like any other oracle failure.
type Breaker struct {
	next Oracle
	cb   *gobreaker.CircuitBreaker[*Selection]
	name string
	log  *logger.Logger
}

// NewBreaker wraps next
func NewBreaker(next Oracle, cfg BreakerConfig, log *logger.Logger) *Breaker {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Name == "" {
		cfg.Name = "oracle"
	}
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(0)

	b := &Breaker{next: next, name: cfg.Name, log: log}
	b.cb = gobreaker.NewCircuitBreaker[*Selection](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= cfg.FailureRatio {
				log.Warn("Opening oracle circuit",
					"failures", counts.TotalFailures,
					"failure_rate", ratio)
				return true
			}
			return false
		},
		// A caller giving up is not the oracle's fault
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("Oracle circuit state transition", "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return b
}

// Model reports the wrapped oracle's model
func (b *Breaker) Model() string {
	return b.next.Model()
}

// State reports the current breaker state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Explore runs the wrapped Explore through the breaker
func (b *Breaker) Explore(ctx context.Context, req ExploreRequest) (*Selection, error) {
	return b.execute(func() (*Selection, error) {
		return b.next.Explore(ctx, req)
	})
}

// Recommend runs the wrapped Recommend through the breaker
func (b *Breaker) Recommend(ctx context.Context, req RecommendRequest) (*Selection, error) {
	return b.execute(func() (*Selection, error) {
		return b.next.Recommend(ctx, req)
	})
}

func (b *Breaker) execute(fn func() (*Selection, error)) (*Selection, error) {
	sel, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.log.Warn("Oracle call rejected by circuit breaker", "breaker", b.name, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return sel, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
