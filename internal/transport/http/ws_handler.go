package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// WSHandler wires websocket connections into the game use cases. One
// connection serves both roles: participants submit answers and buzzes,
// the admin additionally issues commands.
type WSHandler struct {
	service     *app.GameService
	adminEmails map[string]bool
	upgrader    websocket.Upgrader
}

func NewWSHandler(service *app.GameService, adminEmails []string) *WSHandler {
	admins := make(map[string]bool, len(adminEmails))
	for _, email := range adminEmails {
		admins[email] = true
	}
	return &WSHandler{
		service:     service,
		adminEmails: admins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type answerPayload struct {
	Answer        string `json:"answer"`
	TimeRemaining int    `json:"timeRemaining"`
}

type buzzPayload struct {
	ResponseTime int64 `json:"responseTime"`
}

type buzzerAccepted struct {
	ResponseTime int64 `json:"responseTime"`
	Duplicate    bool  `json:"duplicate"`
}

type finalScorePayload struct {
	Total int `json:"total"`
}

type commandPayload struct {
	Name          string   `json:"name"`
	Round         int      `json:"round"`
	Duration      int      `json:"duration"`
	Question      int      `json:"question"`
	UserID        string   `json:"userId"`
	Points        int      `json:"points"`
	QualifiedUIDs []string `json:"qualifiedUids"`
}

type commandResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type resumePayload struct {
	Total        int                           `json:"total"`
	LastQuestion int                           `json:"lastQuestion"`
	Answers      map[int]domain.RecordedAnswer `json:"answers"`
}

// ServeWS upgrades HTTP requests to websockets and runs the connection's
// read loop. All subscriptions opened here are torn down on disconnect.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	email := r.URL.Query().Get("email")
	team := r.URL.Query().Get("team")
	if uid == "" || email == "" || team == "" {
		http.Error(w, "missing uid, email, or team", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	profile, err := h.join(ctx, uid, email, team)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("ws write error: %v", err)
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	enqueue := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-closeSignals:
		}
	}

	cancelState, err := h.service.SubscribeGameState(ctx, func(gs domain.GameState) {
		gs.TimeRemaining = h.service.Remaining(gs)
		enqueue(outboundMessage[any]{Type: "gameState", Payload: gs})
	})
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancelState()

	cancelBoard, err := h.service.SubscribeLeaderboard(ctx, func(board []domain.UserProfile) {
		enqueue(outboundMessage[any]{Type: "leaderboard", Payload: board})
	})
	if err != nil {
		log.Printf("leaderboard subscription failed for %s: %v", uid, err)
	} else {
		defer cancelBoard()
	}

	// Per-question buzzer subscription, swapped on demand.
	var cancelBuzzer func()
	defer func() {
		if cancelBuzzer != nil {
			cancelBuzzer()
		}
	}()

	enqueue(outboundMessage[any]{Type: "joined", Payload: profile})

	if state, ok, err := h.service.Accumulator(ctx, uid); err == nil && ok {
		enqueue(outboundMessage[any]{Type: "resume", Payload: resumePayload{
			Total:        state.Total,
			LastQuestion: state.LastQuestion,
			Answers:      state.Answers,
		}})
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			outcome, err := h.service.SubmitRound1Answer(ctx, uid, payload.Answer, payload.TimeRemaining)
			if err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			enqueue(outboundMessage[any]{Type: "answerResult", Payload: outcome})
		case "finalScore":
			total, err := h.service.SubmitFinalRound1Score(ctx, uid)
			if err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			enqueue(outboundMessage[any]{Type: "finalScoreSaved", Payload: finalScorePayload{Total: total}})
		case "buzz":
			var payload buzzPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid buzz payload"}})
				continue
			}
			response, created, err := h.service.PressBuzzer(ctx, uid, payload.ResponseTime)
			if err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			enqueue(outboundMessage[any]{Type: "buzzerAccepted", Payload: buzzerAccepted{
				ResponseTime: response.ResponseTime,
				Duplicate:    !created,
			}})
		case "watchBuzzer":
			var payload commandPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid watchBuzzer payload"}})
				continue
			}
			if cancelBuzzer != nil {
				cancelBuzzer()
				cancelBuzzer = nil
			}
			cancel, err := h.service.SubscribeBuzzerRankings(ctx, payload.Question, func(responses []domain.BuzzerResponse) {
				enqueue(outboundMessage[any]{Type: "buzzerRankings", Payload: responses})
			})
			if err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			cancelBuzzer = cancel
		case "command":
			var payload commandPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid command payload"}})
				continue
			}
			result := h.runCommand(ctx, profile, payload)
			enqueue(outboundMessage[any]{Type: "commandResult", Payload: result})
		default:
			enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-writerDone
}

// join ensures the profile exists and promotes configured admin emails.
func (h *WSHandler) join(ctx context.Context, uid, email, team string) (domain.UserProfile, error) {
	if err := h.service.EnsureGameState(ctx); err != nil {
		return domain.UserProfile{}, err
	}
	profile, err := h.service.EnsureProfile(ctx, uid, email, team)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if h.adminEmails[email] && !profile.IsAdmin {
		if err := h.service.MarkAdmin(ctx, uid); err != nil {
			return domain.UserProfile{}, err
		}
		profile.IsAdmin = true
	}
	return profile, nil
}

func (h *WSHandler) runCommand(ctx context.Context, profile domain.UserProfile, cmd commandPayload) commandResult {
	if !profile.IsAdmin {
		return commandResult{Name: cmd.Name, Message: domain.ErrNotAdmin.Error()}
	}

	var err error
	switch cmd.Name {
	case "enableRound1":
		err = h.service.EnableRound1(ctx)
	case "nextQuestion":
		_, err = h.service.NextQuestion(ctx, cmd.Round)
	case "startTimer":
		err = h.service.StartTimer(ctx, cmd.Duration)
	case "stopTimer":
		err = h.service.StopTimer(ctx)
	case "resetTimer":
		err = h.service.ResetTimer(ctx, cmd.Duration)
	case "enableRound2":
		err = h.service.EnableRound2(ctx)
	case "enableRound2Question":
		err = h.service.EnableRound2Question(ctx)
	case "enableRound2Buzzer":
		err = h.service.EnableRound2Buzzer(ctx)
	case "scoreBuzzer":
		err = h.service.ScoreBuzzerResponse(ctx, cmd.UserID, cmd.Question, cmd.Points)
	case "calculateRankings":
		_, err = h.service.CalculateRound1Rankings(ctx)
	case "updateQualified":
		err = h.service.UpdateQualifiedUsers(ctx, cmd.QualifiedUIDs)
	case "resetRound":
		err = h.service.ResetRound(ctx, cmd.Round)
	case "resetGame":
		err = h.service.ResetGame(ctx)
	case "resetBuzzerRound":
		err = h.service.ResetBuzzerRound(ctx)
	case "clearQuestionBuzzer":
		err = h.service.ClearQuestionBuzzer(ctx, cmd.Question)
	default:
		return commandResult{Name: cmd.Name, Message: "unknown command"}
	}

	if err != nil {
		return commandResult{Name: cmd.Name, Message: err.Error()}
	}
	return commandResult{Name: cmd.Name, OK: true}
}
