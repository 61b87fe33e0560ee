package security

import "time"

// DefaultClockSkewGracePeriod is the default grace period applied to
// token expiry checks. It prevents false expiration errors caused by
// time synchronization drift between systems while extending token
// lifetime by at most a few seconds.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks whether expiresAt has passed, using the default
// clock skew grace period. Comparison is timezone-normalized.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks whether expiresAt has passed by more
// than the given grace period. A zero expiresAt never expires.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(expiresAt.UTC().Add(gracePeriod))
}
