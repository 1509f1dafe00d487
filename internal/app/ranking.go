package app

import (
	"context"
	"fmt"
	"log"
	"sort"

	"trivia-live-service/internal/docstore"
	"trivia-live-service/internal/domain"
)

// CalculateRound1Rankings sorts all participants by Round-1 score, writes
// rank and qualification onto each profile, and returns the qualified set
// in rank order. The pass is a full scan plus one write per participant;
// rerunning it with unchanged scores produces identical assignments, so a
// partially failed pass is retried by running the whole thing again.
//
// Equal scores keep their store order (stable sort); no further tie-break
// is applied.
func (s *GameService) CalculateRound1Rankings(ctx context.Context) ([]domain.UserProfile, error) {
	participants, err := s.users.Participants(ctx)
	if err != nil {
		return nil, err
	}

	qualifiedCount := domain.DefaultQualifiedCount
	if gs, err := s.states.Get(ctx); err == nil && gs.QualifiedCount > 0 {
		qualifiedCount = gs.QualifiedCount
	}
	if qualifiedCount > domain.MaxQualifiedCount {
		qualifiedCount = domain.MaxQualifiedCount
	}

	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Round1Score > participants[j].Round1Score
	})

	var qualified []domain.UserProfile
	for i := range participants {
		rank := i + 1
		isQualified := rank <= qualifiedCount
		if err := s.users.Update(ctx, participants[i].UID, docstore.Fields{
			"round1Rank": rank,
			"qualified":  isQualified,
		}); err != nil {
			return nil, fmt.Errorf("write rank for %s: %w", participants[i].UID, err)
		}
		participants[i].Round1Rank = &rank
		participants[i].Qualified = isQualified
		if isQualified {
			qualified = append(qualified, participants[i])
		}
	}
	return qualified, nil
}

// UpdateQualifiedUsers bulk-sets the qualified flag from an explicit uid
// set, independent of any score mutations since the qualification pass.
// Idempotent.
func (s *GameService) UpdateQualifiedUsers(ctx context.Context, qualifiedUIDs []string) error {
	participants, err := s.users.Participants(ctx)
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(qualifiedUIDs))
	for _, uid := range qualifiedUIDs {
		wanted[uid] = true
	}
	for _, p := range participants {
		if err := s.users.Update(ctx, p.UID, docstore.Fields{
			"qualified": wanted[p.UID],
		}); err != nil {
			return fmt.Errorf("update qualification for %s: %w", p.UID, err)
		}
	}
	return nil
}

// Leaderboard returns all participants sorted by total score descending.
func (s *GameService) Leaderboard(ctx context.Context) ([]domain.UserProfile, error) {
	participants, err := s.users.Participants(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].TotalScore > participants[j].TotalScore
	})
	return participants, nil
}

// SubscribeLeaderboard pushes the sorted standings on every profile
// change. Listener errors degrade to an empty board rather than killing
// the subscription.
func (s *GameService) SubscribeLeaderboard(ctx context.Context, onNext func([]domain.UserProfile)) (func(), error) {
	return s.users.SubscribeLeaderboard(ctx, onNext, func(err error) {
		log.Printf("leaderboard listener error (offline mode): %v", err)
		onNext(nil)
	})
}
