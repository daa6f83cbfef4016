package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/joseanu/mssql-converter/pkg/export"
	"github.com/joseanu/mssql-converter/pkg/resilience"
)

// Config - параметры архива артефактов в S3-совместимом хранилище
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`

	// Endpoint - для MinIO / Hetzner / R2. Пусто = AWS.
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`

	// AccessKey / SecretKey - статические ключи. Пусто = цепочка провайдеров AWS (env, профиль, IAM роль).
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// PartSizeMB - размер части multipart загрузки (минимум 5)
	PartSizeMB int `yaml:"part_size_mb"`
}

// Validate проверяет обязательные поля включенного архива
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Bucket == "" {
		return fmt.Errorf("archive bucket is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("archive access_key and secret_key must be set together")
	}
	if c.PartSizeMB != 0 && c.PartSizeMB < 5 {
		return fmt.Errorf("archive part_size_mb must be at least 5, got %d", c.PartSizeMB)
	}
	return nil
}

// uploader - то, что нужно от manager.Uploader
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Archiver складывает готовые артефакты в bucket
type Archiver struct {
	uploader uploader
	bucket   string
	prefix   string
	now      func() time.Time
	breaker  *resilience.CircuitBreaker // nil = без защиты
}

// New создает Archiver с клиентом S3 из конфигурации
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	up := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSizeMB > 0 {
			u.PartSize = int64(cfg.PartSizeMB) << 20
		}
	})

	return newArchiver(up, cfg), nil
}

func newArchiver(up uploader, cfg Config) *Archiver {
	return &Archiver{
		uploader: up,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		now:      time.Now,
	}
}

// Key - ключ объекта: <prefix>/<yyyy>/<mm>/<dd>/<database><ext>
func (a *Archiver) Key(database, extension string) string {
	day := a.now().UTC().Format("2006/01/02")
	return path.Join(a.prefix, day, database+extension)
}

// Store загружает артефакт и возвращает ключ объекта.
// Контрольная сумма xxh3 и статистика кладутся в метаданные объекта.
func (a *Archiver) Store(ctx context.Context, database string, art *export.Artifact, checksum string) (string, error) {
	if art == nil {
		return "", fmt.Errorf("nothing to archive for %s", database)
	}

	key := a.Key(database, art.Extension)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(art.Data),
		ContentType: aws.String(art.ContentType),
		Metadata: map[string]string{
			"xxh3":     checksum,
			"format":   string(art.Format),
			"database": database,
			"tables":   strconv.Itoa(art.Stats.Tables),
			"rows":     strconv.FormatInt(art.Stats.Rows, 10),
		},
	}

	var out *manager.UploadOutput
	err := a.guard(ctx, func(ctx context.Context) error {
		var err error
		out, err = a.uploader.Upload(ctx, input)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to s3://%s: %w", key, a.bucket, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("bucket", a.bucket).
		Str("key", key).
		Str("location", out.Location).
		Int("bytes", len(art.Data)).
		Msg("artifact archived")

	return key, nil
}

// Guard пропускает загрузки через Circuit Breaker
func (a *Archiver) Guard(cb *resilience.CircuitBreaker) {
	a.breaker = cb
}

func (a *Archiver) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if a.breaker == nil {
		return fn(ctx)
	}
	return a.breaker.Execute(ctx, fn)
}
