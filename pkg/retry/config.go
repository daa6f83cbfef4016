package retry

import (
	"fmt"
	"time"
)

// BackoffStrategy определяет стратегию задержки между повторами
type BackoffStrategy string

const (
	// BackoffConstant - постоянная задержка
	BackoffConstant BackoffStrategy = "constant"
	// BackoffExponential - экспоненциальное увеличение задержки
	BackoffExponential BackoffStrategy = "exponential"
)

// Config содержит конфигурацию для retry механизма
type Config struct {
	// Enabled - включить retry механизм
	Enabled bool

	// MaxAttempts - максимальное количество попыток (включая первую)
	// 0 = без ограничения, попытки ограничены только Deadline
	MaxAttempts int

	// Deadline - общий бюджет времени на все попытки.
	// 0 = без дедлайна. Если следующая задержка выходит за дедлайн,
	// Do возвращает ErrDeadlineExceeded не дожидаясь ее.
	Deadline time.Duration

	// InitialDelay - начальная задержка перед первым retry
	InitialDelay time.Duration

	// MaxDelay - максимальная задержка между попытками
	MaxDelay time.Duration

	// BackoffStrategy - стратегия увеличения задержки
	BackoffStrategy BackoffStrategy

	// BackoffMultiplier - множитель для exponential backoff (обычно 2.0)
	BackoffMultiplier float64

	// Jitter - добавлять случайность к задержке (0.0 - 1.0)
	Jitter float64

	// RetryIf - классификатор ошибок. true = ошибка временная, нужен retry.
	// nil = retry для всех ошибок
	RetryIf func(err error) bool

	// OnRetry - callback функция, вызываемая перед каждым retry
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 0, got %d", c.MaxAttempts)
	}

	if c.Deadline < 0 {
		return fmt.Errorf("deadline must be >= 0, got %v", c.Deadline)
	}

	if c.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0")
	}

	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay (%v) must be >= initial_delay (%v)", c.MaxDelay, c.InitialDelay)
	}

	if c.BackoffStrategy != BackoffConstant && c.BackoffStrategy != BackoffExponential {
		return fmt.Errorf("invalid backoff strategy: %s", c.BackoffStrategy)
	}

	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}

	if c.Jitter < 0 || c.Jitter > 1.0 {
		return fmt.Errorf("jitter must be between 0.0 and 1.0, got %f", c.Jitter)
	}

	return nil
}

// UntilDeadline создает конфигурацию "повторять с постоянным интервалом до дедлайна".
// Используется для ожидания готовности SQL Server.
func UntilDeadline(deadline, interval time.Duration, retryIf func(error) bool) Config {
	return Config{
		Enabled:         true,
		MaxAttempts:     0,
		Deadline:        deadline,
		InitialDelay:    interval,
		MaxDelay:        interval,
		BackoffStrategy: BackoffConstant,
		RetryIf:         retryIf,
	}
}

// Exponential - maxAttempts попыток, задержка удваивается от initial до max, jitter 10%.
// Используется для подключения к Redis и брокеру при старте.
func Exponential(maxAttempts int, initial, max time.Duration) Config {
	if max < initial {
		max = initial
	}
	return Config{
		Enabled:           true,
		MaxAttempts:       maxAttempts,
		InitialDelay:      initial,
		MaxDelay:          max,
		BackoffStrategy:   BackoffExponential,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}
