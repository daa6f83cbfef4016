package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseanu/mssql-converter/internal/infra"
	"github.com/joseanu/mssql-converter/pkg/audit"
	"github.com/joseanu/mssql-converter/pkg/core/outcome"
	"github.com/joseanu/mssql-converter/pkg/export"
	"github.com/joseanu/mssql-converter/pkg/pipeline"
	"github.com/joseanu/mssql-converter/pkg/processors"
	"github.com/joseanu/mssql-converter/pkg/upload"
)

// Converter runs one restore → export → cleanup request.
type Converter interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Archiver stores a finished artifact and returns its object key.
type Archiver interface {
	Store(ctx context.Context, database string, art *export.Artifact, checksum string) (string, error)
}

// Deps are the handler dependencies. Outcomes, Archive, Audit and Ready may be nil.
type Deps struct {
	Uploads    *upload.Store
	Converter  Converter
	Compressor *processors.Compressor
	Outcomes   outcome.Sink
	Archive    Archiver
	Audit      audit.Recorder
	Ready      func(ctx context.Context) error
}

// DepsFrom collects the dependencies from Infra.
func DepsFrom(inf *infra.Infra) Deps {
	deps := Deps{
		Uploads:    inf.Uploads,
		Converter:  inf.Pipeline,
		Compressor: inf.Compressor,
		Audit:      inf.Audit,
		Ready:      inf.Ready,
	}
	if inf.Outcomes != nil && inf.Outcomes.Len() > 0 {
		deps.Outcomes = inf.Outcomes
	}
	if inf.Archive != nil {
		deps.Archive = inf.Archive
	}
	return deps
}

// NewRouter wires all handlers and returns the chi router with the Handlers
// (the caller waits on Handlers.Wait during shutdown).
func NewRouter(cfg *infra.Config, deps Deps) (http.Handler, *Handlers) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(originGuard(cfg.CORS.AllowedOriginSuffixes))
	r.Use(corsHandler(cfg.CORS.AllowedOriginSuffixes))
	r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

	h := NewHandlers(deps, cfg.Server.Banner)

	r.Get("/", h.Banner)
	r.Get("/upload-form", h.UploadForm)
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", h.Readyz)
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	for _, f := range cfg.Export.Formats {
		format := export.Format(f)
		r.Post("/"+f, h.Convert(format))
	}

	return r, h
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
