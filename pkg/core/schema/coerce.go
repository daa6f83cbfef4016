package schema

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
	"unicode/utf16"
)

// Target - направление экспорта, от которого зависят правила приведения значений
type Target int

const (
	// TargetEmbedded - встраиваемая БД (SQLite): бинарные данные и длинные строки сохраняются
	TargetEmbedded Target = iota
	// TargetJSON - JSON документ: бинарные данные и длинные строки заменяются на ""
	TargetJSON
)

// MaxJSONStringLength - строки длиннее этого числа UTF-16 code units в JSON заменяются на ""
const MaxJSONStringLength = 1500

// CoerceValue приводит значение из исходной БД к значению, пригодному для target.
//
// Правила:
//   - nil -> nil
//   - числа, строки -> без изменений
//   - big.Int -> int64 (embedded, если помещается), иначе десятичная строка; в JSON число
//   - []byte -> без изменений (embedded) или "" (JSON)
//   - строка длиннее MaxJSONStringLength UTF-16 units -> "" (только JSON)
//   - bool -> 1/0 (embedded, колонка INTEGER) или bool (JSON)
//   - time.Time -> RFC3339Nano
//   - остальное -> JSON текст, при ошибке маршалинга fmt.Sprint
func CoerceValue(value any, target Target) any {
	switch v := value.(type) {
	case nil:
		return nil

	case string:
		if target == TargetJSON && utf16Len(v) > MaxJSONStringLength {
			return ""
		}
		return v

	case []byte:
		if target == TargetJSON {
			return ""
		}
		return v

	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v

	case *big.Int:
		if v == nil {
			return nil
		}
		if target == TargetJSON {
			return v
		}
		if v.IsInt64() {
			return v.Int64()
		}
		// драйвер SQLite не принимает *big.Int
		return v.String()

	case bool:
		if target == TargetJSON {
			return v
		}
		if v {
			return int64(1)
		}
		return int64(0)

	case time.Time:
		return v.Format(time.RFC3339Nano)

	default:
		return canonicalText(v)
	}
}

// CoerceRow приводит все значения строки на месте
func CoerceRow(row []any, target Target) {
	for i := range row {
		row[i] = CoerceValue(row[i], target)
	}
}

// utf16Len - длина строки в UTF-16 code units (символ вне BMP считается за два)
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func canonicalText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
