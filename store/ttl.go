package store

import (
	"strconv"
	"time"
)

// IsExpired checks if a document has a ttl at or before now.
func IsExpired(doc Document, now time.Time) bool {
	ttl, ok := TTL(doc)
	if !ok {
		return false // No TTL = live
	}
	return ttl <= now.Unix()
}

// TTL returns the document's expiry in epoch seconds.
func TTL(doc Document) (int64, bool) {
	switch v := doc[FieldTTL].(type) {
	case nil:
		return 0, false
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		f, ok := ToFloat(v)
		return int64(f), ok
	}
}

// ExpiresAt returns the ttl value for a document that should live for d
// after now, rounded up to the next whole second.
func ExpiresAt(now time.Time, d time.Duration) int64 {
	t := now.Add(d)
	secs := t.Unix()
	if t.Nanosecond() > 0 {
		secs++
	}
	return secs
}
