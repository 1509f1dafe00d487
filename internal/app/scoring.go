package app

import (
	"context"
	"log"
	"strings"
	"time"

	"trivia-live-service/internal/docstore"
	"trivia-live-service/internal/domain"
)

// AnswerOutcome summarizes one Round-1 submission for the submitting
// participant. Total is the locally accumulated running score, not a
// profile read: the profile is only written once, at round end.
type AnswerOutcome struct {
	QuestionNumber int    `json:"questionNumber"`
	Correct        bool   `json:"correct"`
	Points         int    `json:"points"`
	Total          int    `json:"total"`
	CorrectAnswer  string `json:"correctAnswer,omitempty"`
}

// CurrentQuestion resolves the active question for a round from the bank.
func (s *GameService) CurrentQuestion(ctx context.Context, round int) (domain.Question, error) {
	gs, err := s.states.Get(ctx)
	if err != nil {
		return domain.Question{}, err
	}
	set, err := s.questions.GetQuestions(ctx, round)
	if err != nil {
		return domain.Question{}, err
	}
	q, ok := set.ByNumber(gs.CurrentQuestion)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

// SubmitRound1Answer adjudicates one submission. timeRemaining is the
// submitter's locally derived countdown value at the moment of pressing
// submit. The answer lands in the append-only audit log and in the
// participant's accumulator checkpoint; the profile is untouched until
// SubmitFinalRound1Score.
func (s *GameService) SubmitRound1Answer(ctx context.Context, uid, answer string, timeRemaining int) (AnswerOutcome, error) {
	if strings.TrimSpace(answer) == "" {
		return AnswerOutcome{}, domain.ErrEmptyAnswer
	}

	gs, err := s.states.Get(ctx)
	if err != nil {
		return AnswerOutcome{}, err
	}
	if !gs.Round1Active {
		return AnswerOutcome{}, domain.ErrRoundNotActive
	}

	set, err := s.questions.GetQuestions(ctx, 1)
	if err != nil {
		return AnswerOutcome{}, err
	}
	question, ok := set.ByNumber(gs.CurrentQuestion)
	if !ok {
		return AnswerOutcome{}, domain.ErrQuestionNotFound
	}

	correct := domain.CheckAnswer(question, answer)
	points := domain.Round1Points(correct, timeRemaining)

	if _, err := s.answers.Append(ctx, domain.AnswerRecord{
		UserID:         uid,
		QuestionNumber: question.Number,
		Answer:         strings.ToUpper(strings.TrimSpace(answer)),
		RoundNumber:    1,
		Correct:        correct,
		Points:         points,
	}); err != nil {
		return AnswerOutcome{}, err
	}

	state, _, err := s.accumulators.Load(ctx, uid)
	if err != nil {
		return AnswerOutcome{}, err
	}
	if state.Answers == nil {
		state.Answers = make(map[int]domain.RecordedAnswer)
	}
	// A re-submission for the same question replaces the prior entry so
	// the total never double-counts.
	if prior, ok := state.Answers[question.Number]; ok {
		state.Total -= prior.Points
	}
	state.Answers[question.Number] = domain.RecordedAnswer{
		Answer:        strings.ToUpper(strings.TrimSpace(answer)),
		Correct:       correct,
		Points:        points,
		TimeRemaining: timeRemaining,
	}
	state.Total += points
	state.LastQuestion = question.Number
	if err := s.accumulators.Save(ctx, uid, state); err != nil {
		return AnswerOutcome{}, err
	}

	outcome := AnswerOutcome{
		QuestionNumber: question.Number,
		Correct:        correct,
		Points:         points,
		Total:          state.Total,
	}
	if correct {
		outcome.CorrectAnswer = question.Word
	}
	return outcome, nil
}

// Accumulator returns the participant's checkpointed Round-1 state, used
// to resume a reconnecting client.
func (s *GameService) Accumulator(ctx context.Context, uid string) (AccumulatorState, bool, error) {
	return s.accumulators.Load(ctx, uid)
}

// SubmitFinalRound1Score flushes the accumulated total to the profile in
// exactly one write, retrying once after a fixed delay on failure. A
// second failure is logged and given up on; the checkpoint remains for a
// later manual retry.
func (s *GameService) SubmitFinalRound1Score(ctx context.Context, uid string) (int, error) {
	state, ok, err := s.accumulators.Load(ctx, uid)
	if err != nil {
		return 0, err
	}
	if !ok {
		state = AccumulatorState{Answers: map[int]domain.RecordedAnswer{}}
	}

	flush := func() error {
		profile, err := s.users.Get(ctx, uid)
		if err != nil {
			return err
		}
		return s.users.Update(ctx, uid, docstore.Fields{
			"round1Score":     state.Total,
			"round1Answers":   state.Answers,
			"round1Completed": true,
			"totalScore":      state.Total + profile.Round2Score,
		})
	}

	if err := flush(); err != nil {
		log.Printf("final round 1 flush failed for %s, retrying once: %v", uid, err)
		time.Sleep(s.finalScoreRetryDelay)
		if err := flush(); err != nil {
			log.Printf("final round 1 flush retry failed for %s: %v", uid, err)
			return 0, err
		}
	}

	if err := s.accumulators.Clear(ctx, uid); err != nil {
		log.Printf("clear accumulator for %s: %v", uid, err)
	}
	return state.Total, nil
}

// PressBuzzer records a Round-2 buzz. Only qualified participants may
// buzz, only while the buzzer is open, and a repeat press returns the
// original response instead of creating a duplicate.
func (s *GameService) PressBuzzer(ctx context.Context, uid string, responseTime int64) (domain.BuzzerResponse, bool, error) {
	gs, err := s.states.Get(ctx)
	if err != nil {
		return domain.BuzzerResponse{}, false, err
	}
	if !gs.Round2Active {
		return domain.BuzzerResponse{}, false, domain.ErrRoundNotActive
	}
	if !gs.Round2BuzzerActive {
		return domain.BuzzerResponse{}, false, domain.ErrBuzzerInactive
	}

	profile, err := s.users.Get(ctx, uid)
	if err != nil {
		return domain.BuzzerResponse{}, false, err
	}
	if !profile.Qualified {
		return domain.BuzzerResponse{}, false, domain.ErrNotQualified
	}

	return s.buzzers.Press(ctx, uid, gs.CurrentQuestion, responseTime)
}

// ScoreBuzzerResponse applies the admin's verdict from the fixed menu to
// the user's unscored response and additively updates the Round-2 score.
func (s *GameService) ScoreBuzzerResponse(ctx context.Context, uid string, question, points int) error {
	if !domain.ValidBuzzerPoints(points) {
		return domain.ErrInvalidBuzzerPoints
	}
	response, err := s.buzzers.FindUnscored(ctx, uid, question)
	if err != nil {
		return err
	}
	if err := s.buzzers.MarkScored(ctx, response.ID, points); err != nil {
		return err
	}
	return s.applyScoreDelta(ctx, uid, 2, points)
}

// BuzzerRankings returns the ranked view the admin adjudicates from.
func (s *GameService) BuzzerRankings(ctx context.Context, question int) ([]domain.BuzzerResponse, error) {
	return s.buzzers.ForQuestion(ctx, question)
}

// SubscribeBuzzerRankings pushes the ranked view on every buzz.
func (s *GameService) SubscribeBuzzerRankings(ctx context.Context, question int, onNext func([]domain.BuzzerResponse)) (func(), error) {
	return s.buzzers.SubscribeQuestion(ctx, question, onNext, func(err error) {
		log.Printf("buzzer listener error for question %d: %v", question, err)
		onNext(nil)
	})
}

// applyScoreDelta adds points to one round's score and recomputes the
// total from both round scores, never trusting the stored total.
func (s *GameService) applyScoreDelta(ctx context.Context, uid string, round, points int) error {
	profile, err := s.users.Get(ctx, uid)
	if err != nil {
		return err
	}
	fields := docstore.Fields{}
	switch round {
	case 1:
		fields["round1Score"] = profile.Round1Score + points
		fields["totalScore"] = profile.Round1Score + points + profile.Round2Score
	case 2:
		fields["round2Score"] = profile.Round2Score + points
		fields["totalScore"] = profile.Round1Score + profile.Round2Score + points
	default:
		return domain.ErrInvalidRound
	}
	return s.users.Update(ctx, uid, fields)
}
