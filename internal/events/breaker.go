package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPublisherUnavailable is returned while the breaker is open and events
// are being dropped without contacting the broker.
var ErrPublisherUnavailable = errors.New("events: publisher circuit open")

// BreakerState is the state of a BreakingPublisher.
type BreakerState int

const (
	// BreakerClosed forwards every event and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects every event until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen forwards events as trial publishes.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a BreakingPublisher. Zero values take defaults.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	CoolDown         time.Duration
}

// BreakingPublisher wraps a Publisher so a broker outage costs each
// transition one fast error instead of a full publish timeout.
type BreakingPublisher struct {
	next Publisher
	now  func() time.Time

	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	coolDown         time.Duration
	openedAt         time.Time
	onStateChange    func(from, to BreakerState)
}

// NewBreakingPublisher wraps next. onStateChange may be nil.
func NewBreakingPublisher(next Publisher, cfg BreakerConfig, onStateChange func(from, to BreakerState)) *BreakingPublisher {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &BreakingPublisher{
		next:             next,
		now:              time.Now,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		coolDown:         cfg.CoolDown,
		onStateChange:    onStateChange,
	}
}

// Publish forwards ev unless the breaker is open.
func (p *BreakingPublisher) Publish(ctx context.Context, ev Event) error {
	if !p.allow() {
		return ErrPublisherUnavailable
	}
	err := p.next.Publish(ctx, ev)
	// Cancellation says nothing about broker health.
	if err != nil && ctx.Err() != nil {
		return err
	}
	p.record(err == nil)
	return err
}

// Close closes the wrapped publisher.
func (p *BreakingPublisher) Close() error {
	return p.next.Close()
}

// HealthCheck fails while the breaker is open.
func (p *BreakingPublisher) HealthCheck(context.Context) error {
	if p.State() == BreakerOpen {
		return ErrPublisherUnavailable
	}
	return nil
}

// State reports the current state, promoting an expired open breaker to
// half-open.
func (p *BreakingPublisher) State() BreakerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybeHalfOpen()
	return p.state
}

func (p *BreakingPublisher) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybeHalfOpen()
	return p.state != BreakerOpen
}

func (p *BreakingPublisher) record(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case BreakerClosed:
		if ok {
			p.failures = 0
			return
		}
		p.failures++
		if p.failures >= p.failureThreshold {
			p.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		if !ok {
			p.transition(BreakerOpen)
			return
		}
		p.successes++
		if p.successes >= p.successThreshold {
			p.transition(BreakerClosed)
		}
	}
}

// maybeHalfOpen must be called with mu held.
func (p *BreakingPublisher) maybeHalfOpen() {
	if p.state == BreakerOpen && p.now().Sub(p.openedAt) >= p.coolDown {
		p.transition(BreakerHalfOpen)
	}
}

// transition must be called with mu held.
func (p *BreakingPublisher) transition(to BreakerState) {
	from := p.state
	p.state = to
	p.failures = 0
	p.successes = 0
	if to == BreakerOpen {
		p.openedAt = p.now()
	}
	if p.onStateChange != nil && from != to {
		p.onStateChange(from, to)
	}
}
