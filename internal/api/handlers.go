package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/internal/metrics"
	"github.com/joseanu/mssql-converter/pkg/audit"
	"github.com/joseanu/mssql-converter/pkg/core/errs"
	"github.com/joseanu/mssql-converter/pkg/core/outcome"
	"github.com/joseanu/mssql-converter/pkg/export"
	"github.com/joseanu/mssql-converter/pkg/pipeline"
	"github.com/joseanu/mssql-converter/pkg/processors"
	"github.com/joseanu/mssql-converter/pkg/upload"
)

const (
	// FormField is the multipart field carrying the backup file.
	FormField = "bak"

	msgBadUpload = "No file uploaded or incorrect file type."

	// post-response delivery must not hang forever
	deliveryTimeout = 2 * time.Minute
)

// multipart headers and boundary on top of the file itself
const multipartOverhead = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Handlers serves the converter HTTP endpoints.
type Handlers struct {
	deps   Deps
	banner string

	// post-response deliveries (archive, outcome)
	deliveries sync.WaitGroup
}

// NewHandlers creates the handlers.
func NewHandlers(deps Deps, banner string) *Handlers {
	return &Handlers{deps: deps, banner: banner}
}

// Wait blocks until all post-response deliveries are done.
func (h *Handlers) Wait() {
	h.deliveries.Wait()
}

func (h *Handlers) Banner(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, h.banner)
}

func (h *Handlers) UploadForm(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, uploadFormHTML)
}

// Readyz reports whether SQL Server accepts connections.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"mssql": "ok"}
	status := http.StatusOK

	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			checks["mssql"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, checks)
}

// Convert accepts a .bak from the "bak" field, runs the pipeline and returns the artifact.
// ?compress=zstd returns the artifact zstd-compressed (<name>.zst).
func (h *Handlers) Convert(format export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := zerolog.Ctx(ctx)
		started := time.Now()

		compress := r.URL.Query().Get("compress")
		if compress != "" && compress != "zstd" {
			writeText(w, http.StatusBadRequest, fmt.Sprintf("Unsupported compression %q.", compress))
			return
		}

		file, status, err := h.receive(w, r)
		if err != nil {
			logger.Warn().Err(err).Int("status", status).Msg("upload rejected")
			writeText(w, status, uploadMessage(status, h.deps.Uploads.MaxSize()))
			return
		}

		res, err := h.deps.Converter.Run(ctx, pipeline.Request{
			RequestID:  middleware.GetReqID(ctx),
			BackupPath: file.Path,
			Database:   file.DatabaseName,
			Format:     format,
		})

		var (
			art      *export.Artifact
			checksum string
		)
		if err == nil {
			art = res.Artifact
			checksum = processors.ComputeChecksum(art.Data)
			h.writeArtifact(ctx, w, file, art, checksum, compress == "zstd")
		} else {
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error: err.Error(),
				Kind:  errs.KindOf(err).String(),
			})
		}

		rec := outcome.New(middleware.GetReqID(ctx), file.DatabaseName, string(format), started, err)
		rec.Checksum = checksum
		if art != nil {
			rec.Tables = art.Stats.Tables
			rec.Rows = art.Stats.Rows
			rec.Bytes = len(art.Data)
		}
		if res != nil {
			rec.CleanupFailed = res.CleanupErr != nil
		}
		metrics.ObserveConversion(string(format), rec.Status, time.Since(started))

		h.deliver(ctx, rec, art)
	}
}

// receive streams the file part to the upload store without buffering the form.
func (h *Handlers) receive(w http.ResponseWriter, r *http.Request) (*upload.File, int, error) {
	done := audit.Track(r.Context(), h.deps.Audit, audit.StepUpload, "")

	file, status, err := h.save(w, r)
	entry := func(e *audit.Entry) {
		if file != nil {
			e.WithDatabase(file.DatabaseName).WithResource(file.OriginalName).WithMetadata("bytes", file.Size)
		}
	}
	done(err, entry)
	return file, status, err
}

func (h *Handlers) save(w http.ResponseWriter, r *http.Request) (*upload.File, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.Uploads.MaxSize()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, http.StatusBadRequest, errors.New("no file in field " + FormField)
		}
		if err != nil {
			return nil, statusFor(err), err
		}
		if part.FormName() != FormField || part.FileName() == "" {
			part.Close()
			continue
		}

		file, err := h.deps.Uploads.Save(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			return nil, statusFor(err), err
		}
		return file, http.StatusOK, nil
	}
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	if errors.Is(err, upload.ErrTooLarge) || errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func uploadMessage(status int, maxSize int64) string {
	if status == http.StatusRequestEntityTooLarge {
		return fmt.Sprintf("File too large. Maximum allowed size is %d MB.", maxSize>>20)
	}
	return msgBadUpload
}

func (h *Handlers) writeArtifact(ctx context.Context, w http.ResponseWriter, file *upload.File, art *export.Artifact, checksum string, compress bool) {
	data := art.Data
	contentType := art.ContentType
	filename := file.DatabaseName + art.Extension
	attachment := art.Attachment

	if compress && h.deps.Compressor != nil {
		var stats processors.CompressionStats
		data, stats = h.deps.Compressor.Compress(art.Data)
		contentType = processors.ZstdContentType
		filename += processors.ZstdExtension
		attachment = true
		zerolog.Ctx(ctx).Debug().Float64("ratio", stats.Ratio).Int("bytes", len(data)).Msg("artifact compressed")
	}

	hdr := w.Header()
	hdr.Set("Content-Type", contentType)
	hdr.Set(processors.ChecksumHeader, checksum)
	if attachment {
		hdr.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to write artifact")
	}
}

// deliver archives the artifact and publishes the outcome after the response.
// Failures are only logged.
func (h *Handlers) deliver(ctx context.Context, rec outcome.Record, art *export.Artifact) {
	if h.deps.Outcomes == nil && (h.deps.Archive == nil || art == nil) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	h.deliveries.Add(1)
	go func() {
		defer h.deliveries.Done()
		defer cancel()
		logger := zerolog.Ctx(ctx)

		if h.deps.Archive != nil && art != nil {
			key, err := h.deps.Archive.Store(ctx, rec.Database, art, rec.Checksum)
			if err != nil {
				metrics.DeliveryFailed("archive")
				logger.Warn().Err(err).Str("db", rec.Database).Msg("artifact archive failed")
			} else {
				rec.ArchiveKey = key
			}
		}

		if h.deps.Outcomes != nil {
			if err := h.deps.Outcomes.Publish(ctx, rec); err != nil {
				metrics.DeliveryFailed("outcome")
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

const uploadFormHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Upload Form</title></head>
<body>
  <h2>Upload Form</h2>
  <form action="/sqlite" method="post" enctype="multipart/form-data">
    <div>
      <label for="bak">Choose a file to upload:</label>
      <input type="file" id="bak" name="bak" accept=".bak">
    </div>
    <button type="submit">Upload File</button>
  </form>
</body>
</html>
`
