package domain

import "time"

// Game-wide defaults. The admin can override the timer duration per start
// and the qualified count via game state, but the cap on qualifiers is fixed.
const (
	DefaultTimerDuration  = 90
	Round1TotalQuestions  = 20
	Round2TotalQuestions  = 15
	DefaultQualifiedCount = 10
	MaxQualifiedCount     = 15
)

// GameState is the single shared document driving every client. It lives in
// the "gameState" collection under the fixed id "current" and is mutated only
// by admin operations.
type GameState struct {
	CurrentRound         int  `json:"currentRound"`
	CurrentQuestion      int  `json:"currentQuestion"`
	Round1Active         bool `json:"round1Active"`
	Round2Active         bool `json:"round2Active"`
	GameStarted          bool `json:"gameStarted"`
	GameEnded            bool `json:"gameEnded"`
	Round1TotalQuestions int  `json:"round1TotalQuestions"`
	Round2TotalQuestions int  `json:"round2TotalQuestions"`

	// Timer fields. TimerStartTime is epoch milliseconds; zero means no
	// start has been recorded, and observers must fall back to TimeRemaining
	// instead of computing against it.
	TimerActive    bool  `json:"timerActive"`
	TimerDuration  int   `json:"timerDuration"`
	TimerStartTime int64 `json:"timerStartTime"`
	TimeRemaining  int   `json:"timeRemaining"`

	// Round 2 two-phase reveal: the question is shown first, then the buzzer
	// opens. BuzzerStartTime is stamped when the buzzer opens.
	Round2QuestionActive bool  `json:"round2QuestionActive"`
	Round2BuzzerActive   bool  `json:"round2BuzzerActive"`
	BuzzerStartTime      int64 `json:"buzzerStartTime"`

	QualifiedCount int       `json:"qualifiedCount"`
	AdminUID       string    `json:"adminUid"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// NewGameState returns the initial state every tournament starts from.
func NewGameState() GameState {
	return GameState{
		CurrentRound:         1,
		CurrentQuestion:      1,
		Round1TotalQuestions: Round1TotalQuestions,
		Round2TotalQuestions: Round2TotalQuestions,
		TimerDuration:        DefaultTimerDuration,
		TimeRemaining:        DefaultTimerDuration,
		QualifiedCount:       DefaultQualifiedCount,
	}
}

// RecordedAnswer is one entry of a participant's Round-1 audit trail,
// keyed by question number on the profile.
type RecordedAnswer struct {
	Answer        string `json:"answer"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	TimeRemaining int    `json:"timeRemaining"`
}

// UserProfile is one participant (or the admin). Profiles are created
// idempotently at first login and never deleted; resets only zero the
// round-scoped fields.
type UserProfile struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	TeamName string `json:"teamName"`
	IsAdmin  bool   `json:"isAdmin"`

	Round1Score int `json:"round1Score"`
	Round2Score int `json:"round2Score"`
	// TotalScore is always recomputed as round1+round2 on every score
	// mutation and never independently trusted.
	TotalScore int `json:"totalScore"`

	Round1Rank *int `json:"round1Rank"`
	Round2Rank *int `json:"round2Rank"`
	FinalRank  *int `json:"finalRank"`

	Qualified       bool                   `json:"qualified"`
	Round1Completed bool                   `json:"round1Completed"`
	Round1Answers   map[int]RecordedAnswer `json:"round1Answers,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	LastActive  time.Time `json:"lastActive"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NewUserProfile builds the default profile written at first login.
func NewUserProfile(uid, email, teamName string, now time.Time) UserProfile {
	return UserProfile{
		UID:        uid,
		Email:      email,
		TeamName:   teamName,
		CreatedAt:  now,
		LastActive: now,
	}
}

// AnswerRecord is the append-only Round-1 submission log. Records are
// write-once and deleted only by round resets.
type AnswerRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	QuestionNumber int       `json:"questionNumber"`
	Answer         string    `json:"answer"`
	RoundNumber    int       `json:"roundNumber"`
	Correct        bool      `json:"isCorrect"`
	Points         int       `json:"points"`
	Timestamp      time.Time `json:"timestamp"`
}

// BuzzerResponse records one buzz press. At most one unscored response may
// exist per (UserID, QuestionNumber); ResponseTime is client-measured
// milliseconds since buzzer activation. Seq is the store-assigned insertion
// order and breaks ResponseTime ties.
type BuzzerResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	QuestionNumber int       `json:"questionNumber"`
	ResponseTime   int64     `json:"responseTime"`
	Scored         bool      `json:"scored"`
	Points         int       `json:"points"`
	Seq            int64     `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
	ScoredAt       time.Time `json:"scoredAt,omitempty"`
}

// Question is one entry of the question bank. Round 1 questions are word
// guesses; Round 2 questions are read aloud and adjudicated by the admin.
type Question struct {
	Round      int    `json:"round"`
	Number     int    `json:"number"`
	Prompt     string `json:"prompt"`
	Word       string `json:"word"`
	Difficulty string `json:"difficulty"`
	Points     int    `json:"points"`
}

// QuestionSet is the full bank for one round, ordered by question number.
type QuestionSet struct {
	Round     int        `json:"round"`
	Questions []Question `json:"questions"`
}

// ByNumber returns the question with the given number, if present.
func (qs QuestionSet) ByNumber(number int) (Question, bool) {
	for _, q := range qs.Questions {
		if q.Number == number {
			return q, true
		}
	}
	return Question{}, false
}
