package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State of the breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrOpen is returned when the breaker short-circuits a call.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds breaker thresholds. Zero fields take defaults.
type Config struct {
	// Consecutive failures before CLOSED trips to OPEN. Default 5.
	FailureThreshold int
	// Consecutive HALF_OPEN successes before closing. Default 2.
	SuccessThreshold int
	// How long OPEN lasts before a HALF_OPEN probe. Default 60s.
	Timeout time.Duration
	// In CLOSED, failures older than this are forgotten. Default 30s.
	ResetTimeout time.Duration
}

// Breaker wraps downstream calls with a CLOSED/OPEN/HALF_OPEN policy.
// While OPEN, Execute fails immediately without calling the downstream.
type Breaker struct {
	name   string
	config Config
	logger zerolog.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailure     time.Time
	nextAttemptTime time.Time
	probing         bool

	onStateChange func(name string, state State)
}

// New creates a breaker with the given name for logging and metrics.
func New(name string, config Config, logger zerolog.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		config: config,
		logger: logger.With().Str("component", "breaker").Str("downstream", name).Logger(),
		now:    time.Now,
	}
}

// OnStateChange registers a hook called after every transition (metrics).
func (b *Breaker) OnStateChange(fn func(name string, state State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under the breaker policy.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Before(b.nextAttemptTime) {
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.probing = true
		return nil
	case HalfOpen:
		// Exactly one trial call permitted at a time.
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		// In CLOSED, a quiet period forgets old failures.
		if b.failures > 0 && b.now().Sub(b.lastFailure) > b.config.ResetTimeout {
			b.failures = 0
		}
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.probing = false
	}

	if err != nil {
		b.lastFailure = b.now()
		switch b.state {
		case HalfOpen:
			b.reopen()
		default:
			b.failures++
			if b.failures >= b.config.FailureThreshold {
				b.reopen()
			}
		}
		return
	}

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.successes = 0
			b.transition(Closed)
		}
	default:
		b.failures = 0
	}
}

func (b *Breaker) reopen() {
	b.failures = 0
	b.successes = 0
	b.nextAttemptTime = b.now().Add(b.config.Timeout)
	b.transition(Open)
}

func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.logger.Warn().Str("from", b.state.String()).Str("to", next.String()).Msg("breaker state change")
	b.state = next
	if b.onStateChange != nil {
		b.onStateChange(b.name, next)
	}
}
