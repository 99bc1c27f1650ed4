package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Record holds the per-service circuit state. Records are created lazily on
// first use and mutated only under the store's exclusive access.
type Record struct {
	State       State
	Failures    uint32
	Requests    uint32
	WindowStart time.Time
	OpenedAt    time.Time
	// Probing marks the single allowed half-open probe as in flight.
	Probing bool
}

// StateStore provides exclusive access to per-service circuit records. The
// default in-memory store is process-local; a shared implementation (e.g. a
// fast key-value store with compare-and-swap) can replace it without
// touching the state machine.
type StateStore interface {
	// Mutate runs fn with exclusive access to the named service's record,
	// creating the record on first use.
	Mutate(service string, fn func(*Record))
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore returns the default process-local state store.
func NewMemoryStore() StateStore {
	return &memoryStore{records: make(map[string]*Record)}
}

func (s *memoryStore) Mutate(service string, fn func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[service]
	if !ok {
		r = &Record{State: StateClosed, WindowStart: time.Now()}
		s.records[service] = r
	}
	fn(r)
}

// Config contains circuit breaker thresholds
type Config struct {
	// FailureThreshold is the failure count at or above which the circuit
	// opens, provided MinimumRequests has also been reached.
	FailureThreshold uint32
	// MinimumRequests is the request volume required before the circuit
	// may open at all.
	MinimumRequests uint32
	// RecoveryTimeout is how long an open circuit rejects calls before
	// allowing a half-open probe.
	RecoveryTimeout time.Duration
	// MonitoringPeriod bounds how long failures contribute to the
	// threshold while the circuit stays closed.
	MonitoringPeriod time.Duration
}

// Breaker gates calls to external services, keyed by service name. Each key
// has independent state.
type Breaker struct {
	config Config
	store  StateStore
	logger *logrus.Logger
}

// New creates a breaker with the default in-memory state store.
func New(config Config, logger *logrus.Logger) *Breaker {
	return NewWithStore(config, NewMemoryStore(), logger)
}

// NewWithStore creates a breaker over a caller-supplied state store.
func NewWithStore(config Config, store StateStore, logger *logrus.Logger) *Breaker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Breaker{
		config: config,
		store:  store,
		logger: logger,
	}
}

// decision is the admission outcome computed before running the operation.
type decision int

const (
	decisionAllow decision = iota
	decisionProbe
	decisionReject
)

// Execute runs the operation if the named service's circuit allows it. A
// short-circuited call returns an *OpenError without invoking the
// operation.
func (b *Breaker) Execute(ctx context.Context, service string, operation func(context.Context) error) error {
	return b.ExecuteWithFallback(ctx, service, operation, nil)
}

// ExecuteWithFallback runs the operation under circuit protection. When a
// fallback is supplied it replaces both the short-circuit error and any
// operation failure; the underlying error is swallowed.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, service string, operation func(context.Context) error, fallback func(context.Context) error) error {
	var admit decision

	b.store.Mutate(service, func(r *Record) {
		now := time.Now()
		switch r.State {
		case StateClosed:
			if now.Sub(r.WindowStart) >= b.config.MonitoringPeriod {
				r.Failures = 0
				r.Requests = 0
				r.WindowStart = now
			}
			admit = decisionAllow
		case StateOpen:
			if now.Sub(r.OpenedAt) >= b.config.RecoveryTimeout {
				r.State = StateHalfOpen
				r.Probing = true
				admit = decisionProbe
				b.logger.WithFields(logrus.Fields{
					"service": service,
					"state":   r.State.String(),
				}).Info("Circuit breaker transitioned to half-open")
			} else {
				admit = decisionReject
			}
		case StateHalfOpen:
			if r.Probing {
				admit = decisionReject
			} else {
				r.Probing = true
				admit = decisionProbe
			}
		}
	})

	if admit == decisionReject {
		if fallback != nil {
			return fallback(ctx)
		}
		return &OpenError{Service: service}
	}

	err := operation(ctx)

	b.store.Mutate(service, func(r *Record) {
		now := time.Now()

		if admit == decisionProbe {
			r.Probing = false
			if err == nil {
				r.State = StateClosed
				r.Failures = 0
				r.Requests = 0
				r.WindowStart = now
				b.logger.WithFields(logrus.Fields{
					"service": service,
					"state":   r.State.String(),
				}).Info("Circuit breaker closed after successful probe")
			} else {
				r.State = StateOpen
				r.OpenedAt = now
				b.logger.WithFields(logrus.Fields{
					"service": service,
					"state":   r.State.String(),
				}).Warn("Circuit breaker reopened after failed probe")
			}
			return
		}

		r.Requests++
		if err == nil {
			return
		}

		r.Failures++
		if r.Requests >= b.config.MinimumRequests && r.Failures >= b.config.FailureThreshold {
			r.State = StateOpen
			r.OpenedAt = now
			b.logger.WithFields(logrus.Fields{
				"service":  service,
				"failures": r.Failures,
				"requests": r.Requests,
				"state":    r.State.String(),
			}).Warn("Circuit breaker opened due to failures")
		}
	})

	if err != nil && fallback != nil {
		return fallback(ctx)
	}
	return err
}

// Status is an observability snapshot of one service's circuit.
type Status struct {
	Service     string
	State       State
	Failures    uint32
	Requests    uint32
	WindowStart time.Time
	OpenedAt    time.Time
}

// GetStatus returns the state recorded after the most recent Execute for
// the service. It never transitions state itself.
func (b *Breaker) GetStatus(service string) Status {
	var status Status
	b.store.Mutate(service, func(r *Record) {
		status = Status{
			Service:     service,
			State:       r.State,
			Failures:    r.Failures,
			Requests:    r.Requests,
			WindowStart: r.WindowStart,
			OpenedAt:    r.OpenedAt,
		}
	})
	return status
}

// OpenError is returned when a call is short-circuited by an open circuit.
type OpenError struct {
	Service string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.Service)
}

// IsOpenError checks if an error is a circuit-open rejection
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}
