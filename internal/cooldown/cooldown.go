// Package cooldown derives hold and cooldown windows from timestamps.
// Everything here is a pure function of its arguments so the engine and
// any presentation layer compute identical countdowns.
package cooldown

import "time"

// DefaultMinHold is how long a session must stay active before logout is allowed.
const DefaultMinHold = 60 * time.Second

// SecondsSince returns whole seconds elapsed from t0 to now, never negative.
func SecondsSince(t0, now time.Time) int {
	if !now.After(t0) {
		return 0
	}
	return int(now.Sub(t0) / time.Second)
}

// IsHoldSatisfied reports whether at least minHold has passed since loginTime.
func IsHoldSatisfied(loginTime, now time.Time, minHold time.Duration) bool {
	return now.Sub(loginTime) >= minHold
}

// HoldRemaining returns the seconds left before logout is permitted, or 0.
func HoldRemaining(loginTime, now time.Time, minHold time.Duration) int {
	return ceilSeconds(loginTime.Add(minHold).Sub(now))
}

// Remaining returns the seconds left until cooldownUntil, or 0 once it has passed.
func Remaining(cooldownUntil, now time.Time) int {
	return ceilSeconds(cooldownUntil.Sub(now))
}

// Active reports whether a cooldown stamp still blocks a check-in at now.
func Active(cooldownUntil *time.Time, now time.Time) bool {
	return cooldownUntil != nil && cooldownUntil.After(now)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
