package storage

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"focusflow-api/domain"
)

// BreakerSettings tunes the storage circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker once exceeded.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half open.
	HalfOpenRequests uint32
}

// Breaker wraps a Store with a circuit breaker. Only infrastructure failures
// count against it; domain outcomes such as a missing document pass through.
type Breaker struct {
	base domain.Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(base domain.Store, s BreakerSettings, logger *log.Logger) *Breaker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 10 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	threshold := s.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "storage",
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrStorageUnavailable)
		},
	})
	return &Breaker{base: base, cb: cb}
}

// State reports the breaker state for health checks.
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) run(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.Unavailable(err)
	}
	return v, err
}

func (b *Breaker) exec(fn func() error) error {
	_, err := b.run(func() (any, error) { return nil, fn() })
	return err
}

func (b *Breaker) docs(fn func() ([]domain.Document, error)) ([]domain.Document, error) {
	v, err := b.run(func() (any, error) { return fn() })
	if err != nil {
		return nil, err
	}
	return v.([]domain.Document), nil
}

func (b *Breaker) doc(fn func() (domain.Document, error)) (domain.Document, error) {
	v, err := b.run(func() (any, error) { return fn() })
	if err != nil {
		return domain.Document{}, err
	}
	return v.(domain.Document), nil
}

func (b *Breaker) Put(ctx context.Context, p domain.Path, f domain.Fields) error {
	return b.exec(func() error { return b.base.Put(ctx, p, f) })
}

func (b *Breaker) Create(ctx context.Context, p domain.Path, f domain.Fields) error {
	return b.exec(func() error { return b.base.Create(ctx, p, f) })
}

func (b *Breaker) Get(ctx context.Context, p domain.Path) (domain.Document, bool, error) {
	var found bool
	doc, err := b.doc(func() (domain.Document, error) {
		d, ok, err := b.base.Get(ctx, p)
		found = ok
		return d, err
	})
	return doc, found, err
}

func (b *Breaker) List(ctx context.Context, p domain.Path) ([]domain.Document, error) {
	return b.docs(func() ([]domain.Document, error) { return b.base.List(ctx, p) })
}

func (b *Breaker) QueryByEquality(ctx context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return b.docs(func() ([]domain.Document, error) { return b.base.QueryByEquality(ctx, p, field, value) })
}

func (b *Breaker) QueryByArrayMembership(ctx context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return b.docs(func() ([]domain.Document, error) { return b.base.QueryByArrayMembership(ctx, p, field, value) })
}

func (b *Breaker) UpdateIf(ctx context.Context, p domain.Path, cond domain.Condition, f domain.Fields) (domain.Document, error) {
	return b.doc(func() (domain.Document, error) { return b.base.UpdateIf(ctx, p, cond, f) })
}

func (b *Breaker) AddToSet(ctx context.Context, p domain.Path, field string, values []string) (domain.Document, error) {
	return b.doc(func() (domain.Document, error) { return b.base.AddToSet(ctx, p, field, values) })
}
