package processors

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// ChecksumHeader - заголовок ответа с xxh3 артефакта
const ChecksumHeader = "X-Checksum-XXH3"

// ComputeChecksum вычисляет xxh3 (64-bit) и возвращает 16 hex символов
func ComputeChecksum(data []byte) string {
	return formatChecksum(xxh3.Hash(data))
}

func formatChecksum(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
