package domain

import "time"

// SnipeProtection decides whether a bid accepted at now pushes the close out.
// It returns the new end time and true when an extension applies.
//
// remaining = endsAt - now; the auction is extended to now + window only when
// 0 < remaining <= window. A non-positive window disables protection.
func SnipeProtection(endsAt, now time.Time, window time.Duration) (time.Time, bool) {
	if window <= 0 {
		return endsAt, false
	}
	remaining := endsAt.Sub(now)
	if remaining <= 0 || remaining > window {
		return endsAt, false
	}
	extended := now.Add(window)
	if !extended.After(endsAt) {
		return endsAt, false
	}
	return extended, true
}
