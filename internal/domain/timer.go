package domain

import "time"

// Remaining derives the countdown value every client displays for the given
// state at the given instant. No writes happen while a timer ticks: the
// admin writes the start timestamp once and each observer recomputes
// locally on its own one-second cadence.
//
// The result is clamped to [0, TimerDuration] and never extrapolates past
// the duration. A state claiming TimerActive without a recorded start time
// is treated as inactive and served from the last persisted TimeRemaining.
func Remaining(gs GameState, now time.Time) int {
	duration := gs.TimerDuration
	if duration <= 0 {
		duration = DefaultTimerDuration
	}
	if !gs.TimerActive || gs.TimerStartTime == 0 {
		return clamp(gs.TimeRemaining, 0, duration)
	}
	elapsed := int((now.UnixMilli() - gs.TimerStartTime) / 1000)
	return clamp(duration-elapsed, 0, duration)
}

// TimerExpired reports whether an active timer has run out.
func TimerExpired(gs GameState, now time.Time) bool {
	return gs.TimerActive && gs.TimerStartTime != 0 && Remaining(gs, now) == 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
