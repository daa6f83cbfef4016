package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConnect(attempts int) ConnectConfig {
	return ConnectConfig{Attempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestConnect_RetriesUntilReachable(t *testing.T) {
	refused := errors.New("dial tcp 10.0.0.5:5672: connect: connection refused")

	calls := 0
	err := connect(context.Background(), "rabbitmq", fastConnect(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return refused
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConnect_GivesUpAfterAttempts(t *testing.T) {
	refused := errors.New("connection refused")

	calls := 0
	err := connect(context.Background(), "kafka", fastConnect(3), func(ctx context.Context) error {
		calls++
		return refused
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 3, calls)
}

func TestConnect_CanceledIsNotRetried(t *testing.T) {
	calls := 0
	err := connect(context.Background(), "redis", fastConnect(5), func(ctx context.Context) error {
		calls++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSetup_ResultLogWaitsForRedis(t *testing.T) {
	mini := miniredis.NewMiniRedis()
	require.NoError(t, mini.Start())
	addr := mini.Addr()
	mini.Close()

	// Redis comes up after the service
	go func() {
		time.Sleep(30 * time.Millisecond)
		mini.StartAddr(addr)
	}()
	defer mini.Close()

	cfg := DefaultConfig()
	cfg.MSSQL.Password = "x"
	cfg.Upload.Dir = t.TempDir()
	cfg.ResultLog.Enabled = true
	cfg.ResultLog.Address = addr
	cfg.Connect = ConnectConfig{Attempts: 10, InitialDelay: 20 * time.Millisecond, MaxDelay: 100 * time.Millisecond}

	inf, err := Setup(context.Background(), cfg, false)
	require.NoError(t, err)
	defer inf.Close()

	assert.Equal(t, 1, inf.Outcomes.Len())
}
