package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/joseanu/mssql-converter/internal/metrics"
	"github.com/joseanu/mssql-converter/pkg/adapters/mssql"
	"github.com/joseanu/mssql-converter/pkg/archive"
	"github.com/joseanu/mssql-converter/pkg/audit"
	"github.com/joseanu/mssql-converter/pkg/brokers"
	"github.com/joseanu/mssql-converter/pkg/core/outcome"
	"github.com/joseanu/mssql-converter/pkg/export"
	"github.com/joseanu/mssql-converter/pkg/pipeline"
	"github.com/joseanu/mssql-converter/pkg/processors"
	"github.com/joseanu/mssql-converter/pkg/resilience"
	"github.com/joseanu/mssql-converter/pkg/resultlog"
	"github.com/joseanu/mssql-converter/pkg/retry"
	"github.com/joseanu/mssql-converter/pkg/upload"
)

// Infra holds all live infrastructure handles for the running service.
type Infra struct {
	Uploads    *upload.Store
	Exports    *export.Registry
	Pipeline   *pipeline.Controller
	Audit      *audit.Logger
	Outcomes   *outcome.Fanout
	Archive    *archive.Archiver // nil = archive disabled
	Compressor *processors.Compressor

	// Ready pings SQL Server (GET /readyz)
	Ready func(ctx context.Context) error

	redis *redis.Client

	// dev-mode internal instance; nil in production
	mini *miniredis.Miniredis

	closers []func() error
}

// Setup wires storage, the pipeline and the best-effort delivery targets.
//   - dev=true: result records go to an in-process miniredis.
//   - dev=false: Redis, broker and S3 are used only when enabled in cfg.
func Setup(ctx context.Context, cfg *Config, dev bool) (_ *Infra, err error) {
	inf := &Infra{}
	defer func() {
		if err != nil {
			inf.Close()
		}
	}()

	inf.Uploads, err = upload.NewStore(cfg.Upload.Dir, cfg.UploadMaxSize())
	if err != nil {
		return nil, fmt.Errorf("infra: upload dir: %w", err)
	}

	inf.Compressor, err = processors.NewCompressor(cfg.Export.ZstdLevel)
	if err != nil {
		return nil, fmt.Errorf("infra: zstd: %w", err)
	}
	inf.closers = append(inf.closers, inf.Compressor.Close)

	inf.Audit, err = setupAudit(ctx, cfg.Audit)
	if err != nil {
		return nil, err
	}
	inf.closers = append(inf.closers, inf.Audit.Close)

	sinks, err := inf.setupSinks(ctx, cfg, dev)
	if err != nil {
		return nil, err
	}
	inf.Outcomes = outcome.NewFanout(sinks...)
	inf.closers = append(inf.closers, inf.Outcomes.Close)

	if cfg.Archive.Enabled {
		inf.Archive, err = archive.New(ctx, cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("infra: archive: %w", err)
		}
		cb, err := resilience.New("s3", breakerConfig(cfg.Breaker))
		if err != nil {
			return nil, fmt.Errorf("infra: archive: %w", err)
		}
		inf.Archive.Guard(cb)
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("artifact archive enabled")
	}

	conn := cfg.ConnectionConfig()
	connector := pipeline.NewMSSQLConnector(conn, cfg.WaitConfig(), cfg.RestoreOptions(),
		mssql.WithOnRetry(metrics.ConnectRetry),
	)

	inf.Exports = export.DefaultRegistry()
	inf.Pipeline = pipeline.NewController(connector, inf.Exports,
		pipeline.WithRecorder(inf.Audit),
		pipeline.WithRemoveFunc(inf.Uploads.Remove),
		pipeline.WithCleanupTimeout(cfg.Restore.CleanupTimeout),
	)

	health, err := mssql.OpenHealthPool(conn)
	if err != nil {
		return nil, fmt.Errorf("infra: mssql health pool: %w", err)
	}
	inf.closers = append(inf.closers, health.Close)
	inf.Ready = health.PingContext

	return inf, nil
}

func setupAudit(ctx context.Context, cfg AuditConfig) (*audit.Logger, error) {
	appenders := []audit.Appender{
		audit.NewLogAppender(log.Logger),
		metrics.NewAppender(),
	}

	if cfg.File != "" {
		fa, err := audit.NewFileAppender(audit.FileAppenderConfig{
			Path:       cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("infra: audit file: %w", err)
		}
		appenders = append(appenders, fa)
	}

	if cfg.Database != "" {
		da, err := audit.NewDatabaseAppender(ctx, audit.DatabaseAppenderConfig{Path: cfg.Database})
		if err != nil {
			for _, a := range appenders {
				a.Close()
			}
			return nil, fmt.Errorf("infra: audit database: %w", err)
		}
		appenders = append(appenders, da)
	}

	return audit.NewLogger(audit.LoggerConfig{
		AsyncMode:  cfg.Async,
		BufferSize: cfg.BufferSize,
		OnError: func(err error) {
			log.Warn().Err(err).Msg("audit append failed")
		},
	}, appenders...), nil
}

func (inf *Infra) setupSinks(ctx context.Context, cfg *Config, dev bool) ([]outcome.Sink, error) {
	var sinks []outcome.Sink

	switch {
	case dev:
		var err error
		inf.mini, err = miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("infra: miniredis: %w", err)
		}
		inf.redis = redis.NewClient(&redis.Options{Addr: inf.mini.Addr()})
		log.Info().Str("redis", inf.mini.Addr()).Msg("dev: in-process miniredis started")
	case cfg.ResultLog.Enabled:
		inf.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.ResultLog.Address,
			Password: cfg.ResultLog.Password,
			DB:       cfg.ResultLog.DB,
		})
	}

	if inf.redis != nil {
		err := connect(ctx, "redis", cfg.Connect, func(ctx context.Context) error {
			return inf.redis.Ping(ctx).Err()
		})
		if err != nil {
			return nil, fmt.Errorf("infra: result redis ping: %w", err)
		}
		sink, err := guard("redis", resultlog.NewRedisPublisherWithClient(inf.redis, cfg.ResultLog.Config), cfg.Breaker)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if cfg.Events.Enabled {
		pub, err := brokers.New(cfg.Events.Config)
		if err != nil {
			return nil, fmt.Errorf("infra: events: %w", err)
		}
		if err := connect(ctx, pub.Type(), cfg.Connect, pub.Connect); err != nil {
			pub.Close()
			return nil, fmt.Errorf("infra: events connect (%s): %w", pub.Type(), err)
		}
		sink, err := guard(pub.Type(), brokers.NewEventSink(pub), cfg.Breaker)
		if err != nil {
			pub.Close()
			return nil, err
		}
		sinks = append(sinks, sink)
		log.Info().Str("broker", pub.Type()).Msg("conversion events enabled")
	}

	return sinks, nil
}

// connect retries a delivery target that may still be starting alongside the service.
func connect(ctx context.Context, target string, cfg ConnectConfig, fn retry.RetryableFunc) error {
	rc := retry.Exponential(cfg.Attempts, cfg.InitialDelay, cfg.MaxDelay)
	rc.RetryIf = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().
			Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("delivery target not reachable yet")
	}

	retryer, err := retry.NewRetryer(rc)
	if err != nil {
		return fmt.Errorf("failed to create retryer: %w", err)
	}
	return retryer.Do(ctx, fn)
}

// breakerConfig adds state-change logging and the breaker gauge.
func breakerConfig(cfg resilience.Config) resilience.Config {
	cfg.OnStateChange = func(target string, from, to resilience.State) {
		metrics.BreakerStateChanged(target, from, to)
		ev := log.Info()
		if to == resilience.StateOpen {
			ev = log.Warn()
		}
		ev.Str("target", target).Stringer("from", from).Stringer("to", to).Msg("delivery breaker state changed")
	}
	return cfg
}

func guard(name string, sink outcome.Sink, cfg resilience.Config) (outcome.Sink, error) {
	g, err := resilience.GuardSink(name, sink, breakerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("infra: %s breaker: %w", name, err)
	}
	return g, nil
}

// Close releases all infrastructure resources.
func (inf *Infra) Close() {
	var errList []error
	for i := len(inf.closers) - 1; i >= 0; i-- {
		if err := inf.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	// the RedisPublisher closes the client via Outcomes; without it we close it here
	if inf.Outcomes == nil && inf.redis != nil {
		errList = append(errList, inf.redis.Close())
	}
	if inf.mini != nil {
		inf.mini.Close()
	}
	if err := errors.Join(errList...); err != nil {
		log.Warn().Err(err).Msg("infra: close")
	}
}
