package resilience

import (
	"context"

	"github.com/joseanu/mssql-converter/pkg/core/outcome"
)

// GuardedSink пропускает Publish через Circuit Breaker: недоступный
// Redis или брокер не задерживает доставку каждого следующего итога.
type GuardedSink struct {
	sink outcome.Sink
	cb   *CircuitBreaker
}

// GuardSink оборачивает получателя; name попадает в ошибки и OnStateChange
func GuardSink(name string, sink outcome.Sink, cfg Config) (*GuardedSink, error) {
	cb, err := New(name, cfg)
	if err != nil {
		return nil, err
	}
	return &GuardedSink{sink: sink, cb: cb}, nil
}

func (g *GuardedSink) Publish(ctx context.Context, r outcome.Record) error {
	return g.cb.Execute(ctx, func(ctx context.Context) error {
		return g.sink.Publish(ctx, r)
	})
}

func (g *GuardedSink) Close() error {
	return g.sink.Close()
}

// Breaker - для проверки состояния в тестах и /metrics
func (g *GuardedSink) Breaker() *CircuitBreaker {
	return g.cb
}
