package types

import "time"

// Credential binds an opaque QR payload to its owner for a bounded lifetime.
// An owner has at most one; issuing a new one supersedes the previous.
type Credential struct {
	Payload    string
	Owner      string
	IssuedAt   time.Time
	TTLSeconds int
}

// TTL returns the lifetime as a duration.
func (c Credential) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ExpiresAt is the last instant at which the credential is still valid.
func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL())
}

// IsExpired reports whether now - IssuedAt > TTL.  Once true it stays true
// for every later now.
func (c Credential) IsExpired(now time.Time) bool {
	return now.Sub(c.IssuedAt) > c.TTL()
}
