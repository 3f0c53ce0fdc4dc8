package model

import "time"

// Timestamps are persisted as epoch milliseconds. Everything the domain stamps
// is truncated to that precision up front so a stored value reads back equal.

// Now returns the current UTC time at stored precision.
func Now() time.Time { return StoredTime(time.Now()) }

// StoredTime converts t to UTC at stored precision.
func StoredTime(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }
