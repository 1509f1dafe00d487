package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trivia-live-service/internal/docstore"
	"trivia-live-service/internal/domain"
)

// Collections of the persistence substrate. The game state is a single
// document under a fixed id.
const (
	usersCollection     = "users"
	gameStateCollection = "gameState"
	answersCollection   = "answers"
	buzzerCollection    = "buzzerResponses"
	gameStateDocID      = "current"
)

// QuestionRepository loads question banks (from cache/backing store).
type QuestionRepository interface {
	GetQuestions(ctx context.Context, round int) (domain.QuestionSet, error)
}

// AccumulatorState is a participant's Round-1 running total and audit
// trail, accumulated locally and flushed to the profile exactly once at
// round end.
type AccumulatorState struct {
	Total        int                           `json:"total"`
	LastQuestion int                           `json:"lastQuestion"`
	Answers      map[int]domain.RecordedAnswer `json:"answers"`
}

// AccumulatorStore checkpoints accumulator state between answers so a
// reconnecting participant resumes instead of losing the deferred score.
type AccumulatorStore interface {
	Load(ctx context.Context, uid string) (AccumulatorState, bool, error)
	Save(ctx context.Context, uid string, state AccumulatorState) error
	Clear(ctx context.Context, uid string) error
}

// GameStateRepository is the typed view over the shared game document.
type GameStateRepository struct {
	store docstore.Store
}

func NewGameStateRepository(store docstore.Store) *GameStateRepository {
	return &GameStateRepository{store: store}
}

func (r *GameStateRepository) Get(ctx context.Context) (domain.GameState, error) {
	doc, err := r.store.Get(ctx, gameStateCollection, gameStateDocID)
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.GameState{}, domain.ErrGameStateNotFound
	}
	if err != nil {
		return domain.GameState{}, err
	}
	var gs domain.GameState
	if err := docstore.Decode(doc, &gs); err != nil {
		return domain.GameState{}, err
	}
	return gs, nil
}

// Create writes the initial state. Callers check existence first so the
// operation stays idempotent.
func (r *GameStateRepository) Create(ctx context.Context) error {
	fields, err := docstore.Encode(domain.NewGameState())
	if err != nil {
		return err
	}
	fields["lastUpdated"] = docstore.ServerTimestamp
	return r.store.Set(ctx, gameStateCollection, gameStateDocID, fields)
}

// Update merges partial fields into the state in one atomic write, always
// stamping lastUpdated so staleness is externally observable.
func (r *GameStateRepository) Update(ctx context.Context, fields docstore.Fields) error {
	fields["lastUpdated"] = docstore.ServerTimestamp
	err := r.store.Update(ctx, gameStateCollection, gameStateDocID, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ErrGameStateNotFound
	}
	return err
}

// Swap applies a compare-and-swap mutation, eliminating the lost-update
// race in read-then-write admin sequences.
func (r *GameStateRepository) Swap(ctx context.Context, mutate func(*domain.GameState) error) error {
	err := r.store.Swap(ctx, gameStateCollection, gameStateDocID, func(fields docstore.Fields) (docstore.Fields, error) {
		var gs domain.GameState
		if err := docstore.Decode(docstore.Document{ID: gameStateDocID, Fields: fields}, &gs); err != nil {
			return nil, err
		}
		if err := mutate(&gs); err != nil {
			return nil, err
		}
		next, err := docstore.Encode(gs)
		if err != nil {
			return nil, err
		}
		next["lastUpdated"] = docstore.ServerTimestamp
		return next, nil
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ErrGameStateNotFound
	}
	return err
}

func (r *GameStateRepository) Subscribe(ctx context.Context, onNext func(domain.GameState), onErr func(error)) (func(), error) {
	return r.store.SubscribeDoc(ctx, gameStateCollection, gameStateDocID, func(doc docstore.Document) {
		var gs domain.GameState
		if err := docstore.Decode(doc, &gs); err != nil {
			onErr(err)
			return
		}
		onNext(gs)
	}, onErr)
}

// UserRepository is the typed view over user profiles.
type UserRepository struct {
	store docstore.Store
}

func NewUserRepository(store docstore.Store) *UserRepository {
	return &UserRepository{store: store}
}

func (r *UserRepository) Get(ctx context.Context, uid string) (domain.UserProfile, error) {
	doc, err := r.store.Get(ctx, usersCollection, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.UserProfile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	var profile domain.UserProfile
	if err := docstore.Decode(doc, &profile); err != nil {
		return domain.UserProfile{}, err
	}
	return profile, nil
}

func (r *UserRepository) Set(ctx context.Context, profile domain.UserProfile) error {
	fields, err := docstore.Encode(profile)
	if err != nil {
		return err
	}
	fields["lastUpdated"] = docstore.ServerTimestamp
	return r.store.Set(ctx, usersCollection, profile.UID, fields)
}

func (r *UserRepository) Update(ctx context.Context, uid string, fields docstore.Fields) error {
	fields["lastUpdated"] = docstore.ServerTimestamp
	err := r.store.Update(ctx, usersCollection, uid, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ErrProfileNotFound
	}
	return err
}

// Participants returns all non-admin profiles in insertion order.
func (r *UserRepository) Participants(ctx context.Context) ([]domain.UserProfile, error) {
	docs, err := r.store.Query(ctx, usersCollection, docstore.Filter{Field: "isAdmin", Equals: false})
	if err != nil {
		return nil, err
	}
	return decodeProfiles(docs)
}

func (r *UserRepository) Subscribe(ctx context.Context, uid string, onNext func(domain.UserProfile), onErr func(error)) (func(), error) {
	return r.store.SubscribeDoc(ctx, usersCollection, uid, func(doc docstore.Document) {
		var profile domain.UserProfile
		if err := docstore.Decode(doc, &profile); err != nil {
			onErr(err)
			return
		}
		onNext(profile)
	}, onErr)
}

// SubscribeLeaderboard pushes all non-admin profiles, sorted by total
// score descending, on every change.
func (r *UserRepository) SubscribeLeaderboard(ctx context.Context, onNext func([]domain.UserProfile), onErr func(error)) (func(), error) {
	filters := []docstore.Filter{{Field: "isAdmin", Equals: false}}
	return r.store.SubscribeQuery(ctx, usersCollection, filters, func(docs []docstore.Document) {
		profiles, err := decodeProfiles(docs)
		if err != nil {
			onErr(err)
			return
		}
		sort.SliceStable(profiles, func(i, j int) bool {
			return profiles[i].TotalScore > profiles[j].TotalScore
		})
		onNext(profiles)
	}, onErr)
}

func decodeProfiles(docs []docstore.Document) ([]domain.UserProfile, error) {
	profiles := make([]domain.UserProfile, 0, len(docs))
	for _, doc := range docs {
		var p domain.UserProfile
		if err := docstore.Decode(doc, &p); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// AnswerRepository is the append-only Round-1 submission log.
type AnswerRepository struct {
	store docstore.Store
}

func NewAnswerRepository(store docstore.Store) *AnswerRepository {
	return &AnswerRepository{store: store}
}

func (r *AnswerRepository) Append(ctx context.Context, rec domain.AnswerRecord) (string, error) {
	fields, err := docstore.Encode(rec)
	if err != nil {
		return "", err
	}
	delete(fields, "id")
	fields["timestamp"] = docstore.ServerTimestamp
	return r.store.Add(ctx, answersCollection, fields)
}

func (r *AnswerRepository) ByRound(ctx context.Context, round int) ([]domain.AnswerRecord, error) {
	docs, err := r.store.Query(ctx, answersCollection, docstore.Filter{Field: "roundNumber", Equals: round})
	if err != nil {
		return nil, err
	}
	return decodeAnswers(docs)
}

// DeleteByRound purges one round's records: fetch-all-then-delete-each,
// not transactional under concurrent writers.
func (r *AnswerRepository) DeleteByRound(ctx context.Context, round int) error {
	docs, err := r.store.Query(ctx, answersCollection, docstore.Filter{Field: "roundNumber", Equals: round})
	if err != nil {
		return err
	}
	return r.deleteDocs(ctx, docs)
}

func (r *AnswerRepository) DeleteAll(ctx context.Context) error {
	docs, err := r.store.Query(ctx, answersCollection)
	if err != nil {
		return err
	}
	return r.deleteDocs(ctx, docs)
}

func (r *AnswerRepository) deleteDocs(ctx context.Context, docs []docstore.Document) error {
	for _, doc := range docs {
		if err := r.store.Delete(ctx, answersCollection, doc.ID); err != nil {
			return fmt.Errorf("delete answer %s: %w", doc.ID, err)
		}
	}
	return nil
}

func decodeAnswers(docs []docstore.Document) ([]domain.AnswerRecord, error) {
	out := make([]domain.AnswerRecord, 0, len(docs))
	for _, doc := range docs {
		var rec domain.AnswerRecord
		if err := docstore.Decode(doc, &rec); err != nil {
			return nil, err
		}
		rec.ID = doc.ID
		out = append(out, rec)
	}
	return out, nil
}

// BuzzerRepository owns buzzer responses. Responses use the deterministic
// id {uid}:{question}, so one user can never hold two responses for one
// question; a repository-level mutex closes the check-then-create window
// between near-simultaneous presses.
type BuzzerRepository struct {
	store docstore.Store
	mu    sync.Mutex
}

func NewBuzzerRepository(store docstore.Store) *BuzzerRepository {
	return &BuzzerRepository{store: store}
}

func buzzerDocID(uid string, question int) string {
	return fmt.Sprintf("%s:%d", uid, question)
}

// Press records a buzz. A repeat press returns the existing response with
// created=false and performs no write.
func (r *BuzzerRepository) Press(ctx context.Context, uid string, question int, responseTime int64) (domain.BuzzerResponse, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := buzzerDocID(uid, question)
	if doc, err := r.store.Get(ctx, buzzerCollection, id); err == nil {
		existing, err := decodeBuzzer(doc)
		return existing, false, err
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return domain.BuzzerResponse{}, false, err
	}

	rec := domain.BuzzerResponse{
		UserID:         uid,
		QuestionNumber: question,
		ResponseTime:   responseTime,
	}
	fields, err := docstore.Encode(rec)
	if err != nil {
		return domain.BuzzerResponse{}, false, err
	}
	delete(fields, "id")
	delete(fields, "seq")
	fields["timestamp"] = docstore.ServerTimestamp
	if err := r.store.Set(ctx, buzzerCollection, id, fields); err != nil {
		return domain.BuzzerResponse{}, false, err
	}
	doc, err := r.store.Get(ctx, buzzerCollection, id)
	if err != nil {
		return domain.BuzzerResponse{}, false, err
	}
	created, err := decodeBuzzer(doc)
	return created, true, err
}

// ForQuestion returns the ranked view: ascending response time, ties by
// insertion order.
func (r *BuzzerRepository) ForQuestion(ctx context.Context, question int) ([]domain.BuzzerResponse, error) {
	docs, err := r.store.Query(ctx, buzzerCollection, docstore.Filter{Field: "questionNumber", Equals: question})
	if err != nil {
		return nil, err
	}
	responses, err := decodeBuzzers(docs)
	if err != nil {
		return nil, err
	}
	sortBuzzers(responses)
	return responses, nil
}

// FindUnscored returns the user's unscored response for a question.
func (r *BuzzerRepository) FindUnscored(ctx context.Context, uid string, question int) (domain.BuzzerResponse, error) {
	docs, err := r.store.Query(ctx, buzzerCollection,
		docstore.Filter{Field: "userId", Equals: uid},
		docstore.Filter{Field: "questionNumber", Equals: question},
		docstore.Filter{Field: "scored", Equals: false},
	)
	if err != nil {
		return domain.BuzzerResponse{}, err
	}
	if len(docs) == 0 {
		return domain.BuzzerResponse{}, domain.ErrBuzzerResponseNotFound
	}
	return decodeBuzzer(docs[0])
}

func (r *BuzzerRepository) MarkScored(ctx context.Context, id string, points int) error {
	return r.store.Update(ctx, buzzerCollection, id, docstore.Fields{
		"scored":   true,
		"points":   points,
		"scoredAt": docstore.ServerTimestamp,
	})
}

func (r *BuzzerRepository) DeleteForQuestion(ctx context.Context, question int) error {
	docs, err := r.store.Query(ctx, buzzerCollection, docstore.Filter{Field: "questionNumber", Equals: question})
	if err != nil {
		return err
	}
	return r.deleteDocs(ctx, docs)
}

// DeleteAll is a full purge; buzzer responses are not round-scoped for
// deletion.
func (r *BuzzerRepository) DeleteAll(ctx context.Context) error {
	docs, err := r.store.Query(ctx, buzzerCollection)
	if err != nil {
		return err
	}
	return r.deleteDocs(ctx, docs)
}

func (r *BuzzerRepository) SubscribeQuestion(ctx context.Context, question int, onNext func([]domain.BuzzerResponse), onErr func(error)) (func(), error) {
	filters := []docstore.Filter{{Field: "questionNumber", Equals: question}}
	return r.store.SubscribeQuery(ctx, buzzerCollection, filters, func(docs []docstore.Document) {
		responses, err := decodeBuzzers(docs)
		if err != nil {
			onErr(err)
			return
		}
		sortBuzzers(responses)
		onNext(responses)
	}, onErr)
}

func (r *BuzzerRepository) deleteDocs(ctx context.Context, docs []docstore.Document) error {
	for _, doc := range docs {
		if err := r.store.Delete(ctx, buzzerCollection, doc.ID); err != nil {
			return fmt.Errorf("delete buzzer response %s: %w", doc.ID, err)
		}
	}
	return nil
}

func sortBuzzers(responses []domain.BuzzerResponse) {
	sort.SliceStable(responses, func(i, j int) bool {
		if responses[i].ResponseTime != responses[j].ResponseTime {
			return responses[i].ResponseTime < responses[j].ResponseTime
		}
		return responses[i].Seq < responses[j].Seq
	})
}

func decodeBuzzer(doc docstore.Document) (domain.BuzzerResponse, error) {
	var rec domain.BuzzerResponse
	if err := docstore.Decode(doc, &rec); err != nil {
		return domain.BuzzerResponse{}, err
	}
	rec.ID = doc.ID
	rec.Seq = doc.Seq
	return rec, nil
}

func decodeBuzzers(docs []docstore.Document) ([]domain.BuzzerResponse, error) {
	out := make([]domain.BuzzerResponse, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeBuzzer(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// touchActive bumps a profile's lastActive stamp.
func touchActive(now time.Time) docstore.Fields {
	return docstore.Fields{"lastActive": now.UTC().Format(time.RFC3339Nano)}
}
