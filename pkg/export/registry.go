package export

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/joseanu/mssql-converter/pkg/adapters"
)

// Format - формат артефакта
type Format string

const (
	FormatSQLite Format = "sqlite"
	FormatJSON   Format = "json"
	FormatXLSX   Format = "xlsx"
)

// Artifact - готовый к отдаче результат экспорта
type Artifact struct {
	Format      Format
	Data        []byte
	ContentType string
	Extension   string
	// Attachment - отдавать как файл (Content-Disposition: attachment)
	Attachment bool
	Stats      Stats
}

// Exporter строит артефакт из источника
type Exporter func(ctx context.Context, src adapters.Source) (*Artifact, error)

// Registry - реестр экспортеров по формату
type Registry struct {
	exporters map[Format]Exporter
	mu        sync.RWMutex
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{exporters: make(map[Format]Exporter)}
}

// DefaultRegistry - реестр со всеми встроенными форматами
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FormatSQLite, sqliteExporter)
	r.Register(FormatJSON, jsonExporter)
	r.Register(FormatXLSX, xlsxExporter)
	return r
}

// Register регистрирует экспортер для формата
func (r *Registry) Register(format Format, exporter Exporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exporters[format] = exporter
}

// IsRegistered проверяет, зарегистрирован ли формат
func (r *Registry) IsRegistered(format Format) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.exporters[format]
	return ok
}

// Formats возвращает отсортированный список форматов
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]Format, 0, len(r.exporters))
	for f := range r.exporters {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}

// Export строит артефакт в заданном формате
func (r *Registry) Export(ctx context.Context, format Format, src adapters.Source) (*Artifact, error) {
	r.mu.RLock()
	exporter, ok := r.exporters[format]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported export format: %s (registered: %v)", format, r.Formats())
	}
	return exporter(ctx, src)
}

func sqliteExporter(ctx context.Context, src adapters.Source) (*Artifact, error) {
	data, stats, err := ToSQLite(ctx, src)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Format:      FormatSQLite,
		Data:        data,
		ContentType: "application/octet-stream",
		Extension:   ".sqlite",
		Attachment:  true,
		Stats:       stats,
	}, nil
}

func jsonExporter(ctx context.Context, src adapters.Source) (*Artifact, error) {
	doc, err := ToJSON(ctx, src)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		return nil, exportErr("json", err)
	}

	return &Artifact{
		Format:      FormatJSON,
		Data:        buf.Bytes(),
		ContentType: "application/json; charset=utf-8",
		Extension:   ".json",
		Stats:       Stats{Tables: len(doc.Tables), Rows: doc.RowCount()},
	}, nil
}

func xlsxExporter(ctx context.Context, src adapters.Source) (*Artifact, error) {
	data, stats, err := ToXLSX(ctx, src)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Format:      FormatXLSX,
		Data:        data,
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Extension:   ".xlsx",
		Attachment:  true,
		Stats:       stats,
	}, nil
}
