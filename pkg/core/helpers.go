package core

import (
	cryptorand "crypto/rand"
)

const digits = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandString base10 - numbers, base16 - hex, base36 - digits+letters
func RandString(size, base byte) string {
	b := make([]byte, size)
	if _, err := cryptorand.Read(b); err != nil {
		panic(err)
	}
	for i := byte(0); i < size; i++ {
		b[i] = digits[b[i]%base]
	}
	return string(b)
}

// Between return value between min and max
func Between[T ~int | ~float64](v, min, max T) T {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
