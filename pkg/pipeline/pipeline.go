// Package pipeline ведет один запрос конвертации:
// connect -> restore -> introspect -> export, и всегда cleanup в конце.
//
// Controller.Run владеет временной БД и загруженным файлом запроса.
// Очистка - единственный отложенный финализатор: она выполняется ровно один раз
// на любом пути (успех, ошибка, отмена контекста, panic), и ее ошибки
// (errs.CleanupStepFailed) никогда не заменяют основной результат.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/audit"
	"github.com/joseanu/mssql-converter/pkg/core/errs"
	"github.com/joseanu/mssql-converter/pkg/core/schema"
	"github.com/joseanu/mssql-converter/pkg/export"
)

// Session - подключение к SQL Server на время одного запроса
type Session interface {
	adapters.Source

	// ServerPath переводит локальный путь файла в путь на стороне сервера
	ServerPath(localPath string) string

	Restore(ctx context.Context, backupPath, dbName string) error

	// DropDatabase удаляет БД; отсутствующая БД не ошибка
	DropDatabase(ctx context.Context, dbName string) error

	Close() error
}

// Connector дожидается сервера и открывает собственную сессию запроса
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// ConnectorFunc - функция как Connector
type ConnectorFunc func(ctx context.Context) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Exporter строит артефакт в заданном формате (export.Registry)
type Exporter interface {
	Export(ctx context.Context, format export.Format, src adapters.Source) (*export.Artifact, error)
}

// Request - один запрос конвертации
type Request struct {
	RequestID string

	// BackupPath - локальный путь загруженного .bak (удаляется при очистке)
	BackupPath string

	// Database - имя временной БД, DB_<token>
	Database string

	Format export.Format
}

// Result - итог запуска
type Result struct {
	// Artifact - nil, если запуск завершился ошибкой
	Artifact *export.Artifact

	// CleanupErr - объединенные ошибки шагов очистки (errs.CleanupStepFailed).
	// Только для журнала, на ответ не влияет.
	CleanupErr error

	Duration time.Duration
}

// Option настраивает Controller
type Option func(*Controller)

// WithRecorder задает получателя записей аудита
func WithRecorder(rec audit.Recorder) Option {
	return func(c *Controller) {
		c.recorder = rec
	}
}

// WithRemoveFunc подменяет удаление загруженного файла
func WithRemoveFunc(remove func(path string) error) Option {
	return func(c *Controller) {
		c.remove = remove
	}
}

// WithCleanupTimeout ограничивает время очистки (0 = без ограничения)
func WithCleanupTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.cleanupTimeout = d
	}
}

// Controller - конвейер конвертации
type Controller struct {
	connector      Connector
	exporter       Exporter
	recorder       audit.Recorder
	remove         func(path string) error
	cleanupTimeout time.Duration
}

// NewController создает конвейер
func NewController(connector Connector, exporter Exporter, opts ...Option) *Controller {
	c := &Controller{
		connector: connector,
		exporter:  exporter,
		recorder:  audit.Nop{},
		remove:    removeFile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run выполняет запрос: restore -> introspect -> export, затем очистка.
//
// Возвращаемая ошибка - основная ошибка запуска.
// Result возвращается всегда, в том числе вместе с ошибкой.
func (c *Controller) Run(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	res = &Result{}

	logger := zerolog.Ctx(ctx).With().
		Str("db", req.Database).
		Str("format", string(req.Format)).
		Logger()
	ctx = logger.WithContext(ctx)

	cleanup := &Cleanup{
		BackupPath: req.BackupPath,
		Database:   req.Database,
		RequestID:  req.RequestID,
		Timeout:    c.cleanupTimeout,
		recorder:   c.recorder,
		remove:     c.remove,
	}
	defer func() {
		res.CleanupErr = cleanup.Run(ctx)
		res.Duration = time.Since(start)

		if err != nil {
			logger.Error().Err(err).Str("kind", errs.KindOf(err).String()).Dur("duration", res.Duration).Msg("conversion failed")
		} else if res.Artifact != nil {
			logger.Info().
				Int("tables", res.Artifact.Stats.Tables).
				Int64("rows", res.Artifact.Stats.Rows).
				Int("bytes", len(res.Artifact.Data)).
				Dur("duration", res.Duration).
				Msg("conversion finished")
		}
	}()

	// connect
	done := c.track(ctx, audit.StepConnect, req)
	session, err := c.connector.Connect(ctx)
	done(err)
	if err != nil {
		// ошибки, отличные от ConnectionTimeout, возвращаются как есть
		return res, err
	}
	cleanup.Session = session

	// restore: с этого момента БД могла появиться на сервере
	cleanup.DatabaseCreated = true
	done = c.track(ctx, audit.StepRestore, req)
	err = session.Restore(ctx, session.ServerPath(req.BackupPath), req.Database)
	done(err)
	if err != nil {
		return res, classify(errs.RestoreFailed, "restore", err)
	}

	// introspect + export
	src := &trackedSource{Source: session, ctx: ctx, c: c, req: req}
	done = c.track(ctx, audit.StepExport, req)
	artifact, err := c.exporter.Export(ctx, req.Format, src)
	if err != nil {
		done(err)
		return res, classify(errs.ExportFailed, "export", err)
	}
	done(nil, func(e *audit.Entry) {
		e.WithRows(artifact.Stats.Rows).WithMetadata("tables", artifact.Stats.Tables).WithMetadata("bytes", len(artifact.Data))
	})

	res.Artifact = artifact
	return res, nil
}

func (c *Controller) track(ctx context.Context, step audit.Step, req Request) func(err error, opts ...func(*audit.Entry)) *audit.Entry {
	done := audit.Track(ctx, c.recorder, step, req.Database)
	return func(err error, opts ...func(*audit.Entry)) *audit.Entry {
		opts = append(opts, func(e *audit.Entry) {
			e.WithRequestID(req.RequestID)
			if e.Resource == "" {
				e.WithResource(string(req.Format))
			}
		})
		return done(err, opts...)
	}
}

// classify присваивает вид ошибке, у которой его еще нет.
// Отмена контекста сохраняется в цепочке (errors.Is(err, context.Canceled)).
func classify(kind errs.Kind, op string, err error) error {
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.E(kind, op, err)
}

// trackedSource отмечает в аудите шаг introspect
type trackedSource struct {
	adapters.Source
	ctx context.Context
	c   *Controller
	req Request
}

func (s *trackedSource) Tables(ctx context.Context) ([]schema.TableSchema, error) {
	done := s.c.track(s.ctx, audit.StepIntrospect, s.req)
	tables, err := s.Source.Tables(ctx)
	done(err, func(e *audit.Entry) {
		e.WithResource("tables").WithRows(int64(len(tables)))
	})
	return tables, err
}
