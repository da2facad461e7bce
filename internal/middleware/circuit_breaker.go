package middleware

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the guarded function.
var ErrCircuitOpen = errors.New("circuit is open")

type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // half-open successes that close it again
	Timeout          time.Duration // open time before a half-open probe
}

func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing backend (postgres, redis) for a
// while so engine callbacks do not queue up behind timeouts. Guarded
// functions carry their own context deadline.
type CircuitBreaker struct {
	name            string
	config          *CircuitBreakerConfig
	state           CircuitState
	failures        int
	successes       int
	rejected        int
	lastStateChange time.Time
	now             func() time.Time
	mu              sync.Mutex
}

func NewCircuitBreaker(name string, config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		state:           CircuitClosed,
		now:             time.Now,
		lastStateChange: time.Now(),
	}
}

func (c *CircuitBreaker) Name() string {
	return c.name
}

func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Execute runs fn if the circuit allows it and records the outcome.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if !c.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	c.recordResult(err)
	return err
}

func (c *CircuitBreaker) allowRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitOpen:
		if c.now().Sub(c.lastStateChange) >= c.config.Timeout {
			c.setState(CircuitHalfOpen)
			return true
		}
		c.rejected++
		return false
	default:
		return true
	}
}

func (c *CircuitBreaker) recordResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.failures = 0
		if c.state == CircuitHalfOpen {
			c.successes++
			if c.successes >= c.config.SuccessThreshold {
				c.setState(CircuitClosed)
			}
		}
		return
	}

	c.failures++
	if c.state == CircuitHalfOpen || c.failures >= c.config.FailureThreshold {
		c.setState(CircuitOpen)
	}
}

func (c *CircuitBreaker) setState(state CircuitState) {
	if c.state == state {
		return
	}
	c.state = state
	c.lastStateChange = c.now()
	c.successes = 0
	if state == CircuitClosed {
		c.failures = 0
	}
}

func (c *CircuitBreaker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setState(CircuitClosed)
	c.failures = 0
}

type CircuitBreakerMetrics struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Rejected        int       `json:"rejected"`
	LastStateChange time.Time `json:"last_state_change"`
}

func (c *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CircuitBreakerMetrics{
		Name:            c.name,
		State:           c.state.String(),
		Failures:        c.failures,
		Rejected:        c.rejected,
		LastStateChange: c.lastStateChange,
	}
}

// CircuitBreakerManager names the breakers exposed on the admin API.
type CircuitBreakerManager struct {
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
}

func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the breaker called name, creating it on first use.
func (m *CircuitBreakerManager) Breaker(name string, config *CircuitBreakerConfig) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, config)
	m.breakers[name] = cb
	return cb
}

func (m *CircuitBreakerManager) Metrics() []CircuitBreakerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]CircuitBreakerMetrics, 0, len(m.breakers))
	for _, cb := range m.breakers {
		result = append(result, cb.Metrics())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
