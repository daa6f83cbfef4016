package processors

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// ZstdExtension - суффикс имени сжатого артефакта
	ZstdExtension = ".zst"

	// ZstdContentType - MIME тип сжатого артефакта
	ZstdContentType = "application/zstd"
)

// Compressor сжимает артефакты zstd. Энкодер переиспользуется между вызовами
// (EncodeAll безопасен для конкурентного использования).
type Compressor struct {
	encoder *zstd.Encoder
	level   int
}

// NewCompressor создает компрессор.
// level: 1 (самый быстрый) - 22 (лучшее сжатие); 0 = 3.
func NewCompressor(level int) (*Compressor, error) {
	if level <= 0 {
		level = 3
	}
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true), // пустой артефакт тоже валидный кадр
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &Compressor{encoder: encoder, level: level}, nil
}

// Compress возвращает zstd кадр и статистику сжатия
func (c *Compressor) Compress(data []byte) ([]byte, CompressionStats) {
	start := time.Now()
	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	return compressed, GetCompressionStats(data, compressed, time.Since(start))
}

// Close освобождает ресурсы энкодера
func (c *Compressor) Close() error {
	return c.encoder.Close()
}

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

// Decompress распаковывает zstd кадр
func Decompress(data []byte) ([]byte, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	if decoderErr != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", decoderErr)
	}

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd: %w", err)
	}
	return out, nil
}

// IsZstd проверяет магическое число кадра zstd
func IsZstd(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0x28, 0xB5, 0x2F, 0xFD})
}

// CompressionStats содержит статистику сжатия
type CompressionStats struct {
	OriginalSize   int           `json:"original_size"`
	CompressedSize int           `json:"compressed_size"`
	Ratio          float64       `json:"ratio"`
	Time           time.Duration `json:"time"`
}

// GetCompressionStats вычисляет статистику сжатия
func GetCompressionStats(original, compressed []byte, d time.Duration) CompressionStats {
	stats := CompressionStats{
		OriginalSize:   len(original),
		CompressedSize: len(compressed),
		Time:           d,
	}
	if len(compressed) > 0 {
		stats.Ratio = float64(len(original)) / float64(len(compressed))
	}
	return stats
}
