package utils

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
)

// RandomBytes - n криптографически случайных байт (соли, ключи токенов).
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("failed to read random bytes: " + err.Error())
	}
	return b
}

// RandomSeed - случайное мастер-зерно симуляции.
func RandomSeed() uint64 {
	return binary.LittleEndian.Uint64(RandomBytes(8))
}

// SeedFromString превращает строку (имя карты, флаг -seed) в зерно.
func SeedFromString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
