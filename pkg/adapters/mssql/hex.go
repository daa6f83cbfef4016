package mssql

import (
	"encoding/binary"
)

// rowversionHex переводит значение timestamp/rowversion
// (8 байт, big-endian) в hex строку без ведущих нулей.
//
//   - []byte{0x00, 0x00, 0x00, 0x00, 0x18, 0x7F, 0x86, 0x3C} → "187F863C"
//   - []byte{0x00, 0x00, 0x00, 0x19, 0xA4, 0xAE, 0x7C, 0x00} → "19A4AE7C00"
//   - восемь нулевых байт → "00"
//   - пустой срез → "", срез другой длины → "00"
func rowversionHex(data []byte) string {
	switch {
	case len(data) == 0:
		return ""
	case len(data) != 8:
		return "00"
	}

	value := binary.BigEndian.Uint64(data)
	if value == 0 {
		return "00"
	}

	const hexChars = "0123456789ABCDEF"
	var result [16]byte
	pos := len(result)
	for value > 0 {
		pos--
		result[pos] = hexChars[value&0x0F]
		value >>= 4
	}

	return string(result[pos:])
}
