package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"trivia-live-service/internal/docstore"
	"trivia-live-service/internal/domain"
)

// GameService contains the game's use cases: state transitions, timer
// control, answer adjudication, buzzer coordination, ranking and resets.
// All state flows through the injected repositories; the service holds no
// hidden globals.
type GameService struct {
	states       *GameStateRepository
	users        *UserRepository
	answers      *AnswerRepository
	buzzers      *BuzzerRepository
	questions    QuestionRepository
	accumulators AccumulatorStore
	now          func() time.Time

	// finalScoreRetryDelay is the pause before the single retry of the
	// Round-1 final flush.
	finalScoreRetryDelay time.Duration
}

func NewGameService(store docstore.Store, questions QuestionRepository, accumulators AccumulatorStore) *GameService {
	return NewGameServiceWithClock(store, questions, accumulators, time.Now)
}

// NewGameServiceWithClock allows deterministic timestamps in tests.
func NewGameServiceWithClock(store docstore.Store, questions QuestionRepository, accumulators AccumulatorStore, now func() time.Time) *GameService {
	return &GameService{
		states:               NewGameStateRepository(store),
		users:                NewUserRepository(store),
		answers:              NewAnswerRepository(store),
		buzzers:              NewBuzzerRepository(store),
		questions:            questions,
		accumulators:         accumulators,
		now:                  now,
		finalScoreRetryDelay: 2 * time.Second,
	}
}

// EnsureGameState creates the shared game document if it is absent. Safe
// to call from every client connection.
func (s *GameService) EnsureGameState(ctx context.Context) error {
	_, err := s.states.Get(ctx)
	if errors.Is(err, domain.ErrGameStateNotFound) {
		return s.states.Create(ctx)
	}
	return err
}

// GameState returns the current shared state.
func (s *GameService) GameState(ctx context.Context) (domain.GameState, error) {
	return s.states.Get(ctx)
}

// SubscribeGameState delivers every state change. On listener errors the
// subscriber keeps running and receives the default state, so the client
// stays usable offline rather than crashing.
func (s *GameService) SubscribeGameState(ctx context.Context, onNext func(domain.GameState)) (func(), error) {
	if err := s.EnsureGameState(ctx); err != nil {
		return nil, err
	}
	return s.states.Subscribe(ctx, onNext, func(err error) {
		log.Printf("game state listener error (serving defaults): %v", err)
		onNext(domain.NewGameState())
	})
}

// EnsureProfile creates the participant's profile at first login and bumps
// lastActive on every subsequent one.
func (s *GameService) EnsureProfile(ctx context.Context, uid, email, teamName string) (domain.UserProfile, error) {
	profile, err := s.users.Get(ctx, uid)
	if errors.Is(err, domain.ErrProfileNotFound) {
		profile = domain.NewUserProfile(uid, email, teamName, s.now())
		if err := s.users.Set(ctx, profile); err != nil {
			return domain.UserProfile{}, err
		}
		return profile, nil
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	if err := s.users.Update(ctx, uid, touchActive(s.now())); err != nil {
		return domain.UserProfile{}, err
	}
	return profile, nil
}

// MarkAdmin flags a profile as the game admin and records the uid on the
// shared state. Admin status is derived from configuration at connect
// time, never self-asserted by clients.
func (s *GameService) MarkAdmin(ctx context.Context, uid string) error {
	if err := s.users.Update(ctx, uid, docstore.Fields{"isAdmin": true}); err != nil {
		return err
	}
	return s.states.Update(ctx, docstore.Fields{"adminUid": uid})
}

// Profile returns one user profile.
func (s *GameService) Profile(ctx context.Context, uid string) (domain.UserProfile, error) {
	return s.users.Get(ctx, uid)
}

// UpdateProfile merges partial fields into a profile.
func (s *GameService) UpdateProfile(ctx context.Context, uid string, fields docstore.Fields) error {
	return s.users.Update(ctx, uid, fields)
}

// Participants returns every non-admin profile in join order.
func (s *GameService) Participants(ctx context.Context) ([]domain.UserProfile, error) {
	return s.users.Participants(ctx)
}

// SubscribeProfile delivers a user's profile changes.
func (s *GameService) SubscribeProfile(ctx context.Context, uid string, onNext func(domain.UserProfile)) (func(), error) {
	return s.users.Subscribe(ctx, uid, onNext, func(err error) {
		log.Printf("profile listener error for %s: %v", uid, err)
	})
}

// Remaining derives the countdown for a state at the service clock.
func (s *GameService) Remaining(gs domain.GameState) int {
	return domain.Remaining(gs, s.now())
}

// EnableRound1 activates Round 1 at question 1 with the timer parked. The
// admin starts the timer separately.
func (s *GameService) EnableRound1(ctx context.Context) error {
	return s.states.Update(ctx, docstore.Fields{
		"round1Active":    true,
		"gameStarted":     true,
		"currentRound":    1,
		"currentQuestion": 1,
		"timerActive":     false,
		"timeRemaining":   domain.DefaultTimerDuration,
		"timerStartTime":  0,
	})
}

// StartTimer arms the countdown in a single write: clients derive every
// tick locally from the start timestamp, so a full 90-second run costs
// exactly one state write.
func (s *GameService) StartTimer(ctx context.Context, duration int) error {
	if duration <= 0 {
		duration = domain.DefaultTimerDuration
	}
	return s.states.Update(ctx, docstore.Fields{
		"timerActive":    true,
		"timerDuration":  duration,
		"timerStartTime": s.now().UnixMilli(),
		"timeRemaining":  duration,
	})
}

// StopTimer parks the countdown; observers fall back to the last persisted
// timeRemaining.
func (s *GameService) StopTimer(ctx context.Context) error {
	return s.states.Update(ctx, docstore.Fields{
		"timerActive":    false,
		"timerStartTime": 0,
	})
}

// ResetTimer parks the countdown back at full duration.
func (s *GameService) ResetTimer(ctx context.Context, duration int) error {
	if duration <= 0 {
		duration = domain.DefaultTimerDuration
	}
	return s.states.Update(ctx, docstore.Fields{
		"timerActive":    false,
		"timerDuration":  duration,
		"timerStartTime": 0,
		"timeRemaining":  duration,
	})
}

// NextQuestion advances the question pointer through a compare-and-swap,
// resets the timer, and (round 2) closes the reveal flags and purges the
// new question's buzzer responses.
func (s *GameService) NextQuestion(ctx context.Context, round int) (int, error) {
	if round != 1 && round != 2 {
		return 0, domain.ErrInvalidRound
	}
	var next int
	err := s.states.Swap(ctx, func(gs *domain.GameState) error {
		gs.CurrentQuestion++
		next = gs.CurrentQuestion
		gs.TimerActive = false
		gs.TimerStartTime = 0
		gs.TimeRemaining = domain.DefaultTimerDuration
		gs.Round2BuzzerActive = false
		gs.BuzzerStartTime = 0
		if round == 2 {
			gs.Round2QuestionActive = false
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if round == 2 {
		if err := s.buzzers.DeleteForQuestion(ctx, next); err != nil {
			return next, err
		}
	}
	return next, nil
}

// EnableRound2 finalizes Round-1 rankings and then flips to Round 2. The
// ordering is load-bearing: qualification must be computed from final
// Round-1 scores before Round-2 participants are determined.
func (s *GameService) EnableRound2(ctx context.Context) error {
	if err := s.StopTimer(ctx); err != nil {
		return err
	}
	if _, err := s.CalculateRound1Rankings(ctx); err != nil {
		return fmt.Errorf("finalize round 1 rankings: %w", err)
	}
	return s.states.Update(ctx, docstore.Fields{
		"round1Active":    false,
		"round2Active":    true,
		"currentRound":    2,
		"currentQuestion": 1,
		"timerActive":     false,
		"timeRemaining":   domain.DefaultTimerDuration,
		"timerStartTime":  0,
	})
}

// EnableRound2Question reveals the current Round-2 question.
func (s *GameService) EnableRound2Question(ctx context.Context) error {
	return s.states.Update(ctx, docstore.Fields{
		"round2QuestionActive": true,
	})
}

// EnableRound2Buzzer opens the buzzer and stamps its activation time.
func (s *GameService) EnableRound2Buzzer(ctx context.Context) error {
	return s.states.Update(ctx, docstore.Fields{
		"round2BuzzerActive": true,
		"buzzerStartTime":    s.now().UnixMilli(),
	})
}

// ResetRound clears one round's transient data while preserving the other
// round's scores. Bulk phases are not transactional; rerunning a failed
// reset is safe because everything is recomputed from source data.
func (s *GameService) ResetRound(ctx context.Context, round int) error {
	switch round {
	case 1:
		if err := s.states.Update(ctx, docstore.Fields{
			"round1Active":    false,
			"currentQuestion": 1,
			"timerActive":     false,
			"timeRemaining":   domain.DefaultTimerDuration,
			"timerStartTime":  0,
			"gameStarted":     false,
		}); err != nil {
			return err
		}
		if err := s.answers.DeleteByRound(ctx, 1); err != nil {
			return err
		}
		return s.resetParticipants(ctx, func(p domain.UserProfile) docstore.Fields {
			return docstore.Fields{
				"round1Score":     0,
				"round1Completed": false,
				"round1Answers":   nil,
				"totalScore":      p.Round2Score,
			}
		})
	case 2:
		if err := s.states.Update(ctx, docstore.Fields{
			"round2Active":         false,
			"currentQuestion":      1,
			"timerActive":          false,
			"timeRemaining":        domain.DefaultTimerDuration,
			"timerStartTime":       0,
			"round2QuestionActive": false,
			"round2BuzzerActive":   false,
		}); err != nil {
			return err
		}
		if err := s.answers.DeleteByRound(ctx, 2); err != nil {
			return err
		}
		if err := s.buzzers.DeleteAll(ctx); err != nil {
			return err
		}
		return s.resetParticipants(ctx, func(p domain.UserProfile) docstore.Fields {
			return docstore.Fields{
				"round2Score": 0,
				"totalScore":  p.Round1Score,
				// Simplified re-derivation, distinct from the ranked pass.
				"qualified": p.Round1Score > 0,
			}
		})
	default:
		return domain.ErrInvalidRound
	}
}

// ResetGame returns everything to the initial state: all flags down, all
// records purged, all participant scores and ranks cleared.
func (s *GameService) ResetGame(ctx context.Context) error {
	if err := s.states.Update(ctx, docstore.Fields{
		"round1Active":         false,
		"round2Active":         false,
		"currentRound":         1,
		"currentQuestion":      1,
		"timerActive":          false,
		"timeRemaining":        domain.DefaultTimerDuration,
		"timerStartTime":       0,
		"round2QuestionActive": false,
		"round2BuzzerActive":   false,
		"gameStarted":          false,
		"gameEnded":            false,
	}); err != nil {
		return err
	}
	if err := s.answers.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.buzzers.DeleteAll(ctx); err != nil {
		return err
	}
	return s.resetParticipants(ctx, func(domain.UserProfile) docstore.Fields {
		return docstore.Fields{
			"round1Score":     0,
			"round2Score":     0,
			"totalScore":      0,
			"round1Rank":      nil,
			"round2Rank":      nil,
			"finalRank":       nil,
			"qualified":       false,
			"round1Completed": false,
			"round1Answers":   nil,
			"lastActive":      docstore.ServerTimestamp,
		}
	})
}

// ResetBuzzerRound purges every buzzer response.
func (s *GameService) ResetBuzzerRound(ctx context.Context) error {
	return s.buzzers.DeleteAll(ctx)
}

// ClearQuestionBuzzer purges buzzer responses for a single question.
func (s *GameService) ClearQuestionBuzzer(ctx context.Context, question int) error {
	return s.buzzers.DeleteForQuestion(ctx, question)
}

func (s *GameService) resetParticipants(ctx context.Context, fields func(domain.UserProfile) docstore.Fields) error {
	participants, err := s.users.Participants(ctx)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if err := s.users.Update(ctx, p.UID, fields(p)); err != nil {
			return fmt.Errorf("reset participant %s: %w", p.UID, err)
		}
	}
	return nil
}
