package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrDeadlineExceeded - общий дедлайн Config.Deadline исчерпан
var ErrDeadlineExceeded = errors.New("retry deadline exceeded")

// DeadlineError возвращается, когда попытки прекращены по Config.Deadline.
// errors.Is(err, ErrDeadlineExceeded) == true, Unwrap отдает последнюю ошибку попытки.
type DeadlineError struct {
	Deadline time.Duration
	Attempts int
	Last     error
}

func (e *DeadlineError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("retry deadline %v exceeded after %d attempts", e.Deadline, e.Attempts)
	}
	return fmt.Sprintf("retry deadline %v exceeded after %d attempts: %v", e.Deadline, e.Attempts, e.Last)
}

func (e *DeadlineError) Is(target error) bool {
	return target == ErrDeadlineExceeded
}

func (e *DeadlineError) Unwrap() error {
	return e.Last
}

// RetryableFunc - функция которую можно retry.
// ctx ограничен оставшимся временем до дедлайна.
type RetryableFunc func(ctx context.Context) error

// Retryer выполняет retry логику
type Retryer struct {
	config Config
}

// NewRetryer создает новый Retryer
func NewRetryer(config Config) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	return &Retryer{config: config}, nil
}

// Do выполняет функцию с retry.
//
// Невременная ошибка (по RetryIf) возвращается без изменений.
// При исчерпании Deadline возвращается *DeadlineError.
func (r *Retryer) Do(ctx context.Context, fn RetryableFunc) error {
	if !r.config.Enabled {
		return fn(ctx)
	}

	attemptCtx := ctx
	var deadlineAt time.Time
	if r.config.Deadline > 0 {
		deadlineAt = time.Now().Add(r.config.Deadline)
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithDeadline(ctx, deadlineAt)
		defer cancel()
	}

	attempts := 0
	for {
		attempts++

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}

		// Попытка оборвана нашим дедлайном, а не отменой вызывающего
		if !deadlineAt.IsZero() && ctx.Err() == nil && attemptCtx.Err() != nil {
			return &DeadlineError{Deadline: r.config.Deadline, Attempts: attempts, Last: err}
		}

		if !r.isRetryableError(err) {
			return err
		}

		if r.config.MaxAttempts > 0 && attempts >= r.config.MaxAttempts {
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, err)
		}

		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		delay := r.calculateDelay(attempts)

		// Следующая попытка началась бы уже после дедлайна
		if !deadlineAt.IsZero() && time.Now().Add(delay).After(deadlineAt) {
			return &DeadlineError{Deadline: r.config.Deadline, Attempts: attempts, Last: err}
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempts, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}

// calculateDelay вычисляет задержку для текущей попытки
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	var delay time.Duration

	switch r.config.BackoffStrategy {
	case BackoffConstant:
		delay = r.config.InitialDelay

	case BackoffExponential:
		multiplier := math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
		delay = time.Duration(float64(r.config.InitialDelay) * multiplier)

	default:
		delay = r.config.InitialDelay
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter > 0 {
		jitter := time.Duration(float64(delay) * r.config.Jitter * (rand.Float64()*2 - 1))
		delay += jitter
		if delay < 0 {
			delay = r.config.InitialDelay
		}
	}

	return delay
}

// isRetryableError проверяет нужен ли retry для ошибки
func (r *Retryer) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return true
}
