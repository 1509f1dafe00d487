package domain

import "strings"

// Round 1 scoring: a correct answer earns the base plus one point per
// second remaining on the timer, giving a 90..180 range across the
// 90-second window. Incorrect answers earn nothing.
const Round1BasePoints = 90

// Round 2 adjudication menu. First-to-buzz is not automatically rewarded;
// the admin listens to the verbal answer and picks from this menu.
const (
	BuzzerCorrectPoints    = 20
	BuzzerPassPoints       = 0
	BuzzerMinorWrongPoints = -10
	BuzzerWrongPoints      = -20
)

// NormalizeAnswer folds case and trims whitespace. Matching is exact after
// normalization; there is no fuzzy matching.
func NormalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CheckAnswer reports whether the submitted answer matches the question's
// word.
func CheckAnswer(q Question, submitted string) bool {
	return NormalizeAnswer(submitted) == NormalizeAnswer(q.Word)
}

// Round1Points computes the score for one Round-1 submission given the
// locally observed time remaining at the moment of submission.
func Round1Points(correct bool, timeRemaining int) int {
	if !correct {
		return 0
	}
	return Round1BasePoints + clamp(timeRemaining, 0, DefaultTimerDuration)
}

// ValidBuzzerPoints reports whether a point value is on the admin menu.
func ValidBuzzerPoints(points int) bool {
	switch points {
	case BuzzerCorrectPoints, BuzzerPassPoints, BuzzerMinorWrongPoints, BuzzerWrongPoints:
		return true
	}
	return false
}
