package model

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// generateID returns 32 hex chars: 8 bytes of big-endian epoch millis followed by
// 8 random bytes, so IDs sort by creation time.
func generateID() string {
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(time.Now().UTC().UnixMilli()))
	_, _ = rand.Read(raw[8:])
	return hex.EncodeToString(raw[:])
}

// NewID exposes the generator to adapters that mint rows outside the model.
func NewID() string {
	return generateID()
}
