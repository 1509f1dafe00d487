package domain

import "errors"

var (
	// ErrGameStateNotFound is returned when the shared game document is missing.
	ErrGameStateNotFound = errors.New("game state not found")
	// ErrProfileNotFound is returned when a user acts before a profile exists.
	ErrProfileNotFound = errors.New("user profile not found")
	// ErrQuestionNotFound indicates the current question is absent from the bank.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrRoundNotActive rejects submissions outside an active round.
	ErrRoundNotActive = errors.New("round is not active")
	// ErrEmptyAnswer rejects blank submissions before any write is attempted.
	ErrEmptyAnswer = errors.New("answer must not be empty")
	// ErrBuzzerInactive rejects buzz presses while the buzzer is closed.
	ErrBuzzerInactive = errors.New("buzzer is not active")
	// ErrNotQualified rejects Round-2 actions from non-qualified participants.
	ErrNotQualified = errors.New("participant is not qualified for round 2")
	// ErrNotAdmin rejects admin commands from participant connections.
	ErrNotAdmin = errors.New("admin privileges required")
	// ErrInvalidRound rejects round numbers other than 1 or 2.
	ErrInvalidRound = errors.New("invalid round number")
	// ErrInvalidBuzzerPoints rejects scores outside the adjudication menu.
	ErrInvalidBuzzerPoints = errors.New("points not on the buzzer scoring menu")
	// ErrBuzzerResponseNotFound indicates no unscored response exists to score.
	ErrBuzzerResponseNotFound = errors.New("buzzer response not found")
)
