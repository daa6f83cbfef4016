package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen - цель доставки временно отключена после серии ошибок
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State - состояние Circuit Breaker
type State int

const (
	// StateClosed - нормальная работа, вызовы проходят
	StateClosed State = iota

	// StateHalfOpen - пробный вызов после паузы
	StateHalfOpen

	// StateOpen - вызовы отклоняются до истечения Timeout
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Config - конфигурация Circuit Breaker для одной цели доставки
type Config struct {
	// Enabled - false = вызовы идут напрямую
	Enabled bool `yaml:"enabled"`

	// MaxFailures - последовательных ошибок до открытия
	MaxFailures uint32 `yaml:"max_failures"`

	// Timeout - время в Open перед пробным вызовом
	Timeout time.Duration `yaml:"timeout"`

	// SuccessThreshold - успешных пробных вызовов для закрытия
	SuccessThreshold uint32 `yaml:"success_threshold"`

	// OnStateChange - вызывается при смене состояния (лог, метрики)
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// DefaultConfig: 5 ошибок подряд, пауза 30 секунд
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Validate - валидация конфигурации
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxFailures == 0 {
		return fmt.Errorf("MaxFailures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be greater than 0")
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	return nil
}

// Counts - счетчики вызовов в текущем поколении
type Counts struct {
	Requests             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker защищает вызовы одной внешней цели
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// New - создать Circuit Breaker
func New(name string, config Config) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config for %s: %w", name, err)
	}
	return &CircuitBreaker{name: name, config: config, now: time.Now}, nil
}

// Execute выполняет fn, если цель не отключена
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.config.Enabled {
		return fn(ctx)
	}

	generation, err := cb.before()
	if err != nil {
		return err
	}

	success := false
	defer func() {
		cb.after(generation, success)
	}()

	err = fn(ctx)
	success = err == nil
	return err
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State - текущее состояние (Open с истекшим Timeout отображается как Half-Open)
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.now().Before(cb.expiry) {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset - вернуть в Closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
}

func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Before(cb.expiry) {
			return cb.generation, fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
		}
		cb.setState(StateHalfOpen)
	}
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) after(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// результат вызова из прошлого поколения не учитывается
	if generation != cb.generation {
		return
	}

	if success {
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
		return
	}

	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.config.MaxFailures {
		cb.setState(StateOpen)
	}
}

// setState вызывается под mu
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	if to == StateOpen {
		cb.expiry = cb.now().Add(cb.config.Timeout)
	}
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) String() string {
	return fmt.Sprintf("CircuitBreaker(%s state=%s)", cb.name, cb.State())
}
