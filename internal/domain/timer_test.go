package domain

import (
	"testing"
	"time"
)

func TestRemainingDerivesFromStartTime(t *testing.T) {
	start := time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)
	gs := GameState{
		TimerActive:    true,
		TimerDuration:  90,
		TimerStartTime: start.UnixMilli(),
	}

	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 90},
		{time.Second, 89},
		{30 * time.Second, 60},
		{89*time.Second + 900*time.Millisecond, 1},
		{90 * time.Second, 0},
		{2 * time.Minute, 0},
	}
	for _, tc := range cases {
		if got := Remaining(gs, start.Add(tc.elapsed)); got != tc.want {
			t.Fatalf("after %v: got %d, want %d", tc.elapsed, got, tc.want)
		}
	}
}

func TestRemainingNeverIncreases(t *testing.T) {
	start := time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)
	gs := GameState{
		TimerActive:    true,
		TimerDuration:  90,
		TimerStartTime: start.UnixMilli(),
	}

	prev := Remaining(gs, start)
	for s := 1; s <= 120; s++ {
		got := Remaining(gs, start.Add(time.Duration(s)*time.Second))
		if got > prev {
			t.Fatalf("remaining increased from %d to %d at %ds", prev, got, s)
		}
		prev = got
	}
}

func TestRemainingFallsBackWhenParked(t *testing.T) {
	now := time.Now()

	gs := GameState{TimerActive: false, TimerDuration: 90, TimeRemaining: 42}
	if got := Remaining(gs, now); got != 42 {
		t.Fatalf("parked timer: got %d, want 42", got)
	}

	gs.TimeRemaining = 300
	if got := Remaining(gs, now); got != 90 {
		t.Fatalf("fallback above duration: got %d, want 90", got)
	}

	gs.TimeRemaining = -5
	if got := Remaining(gs, now); got != 0 {
		t.Fatalf("negative fallback: got %d, want 0", got)
	}

	// Active but never armed behaves like a parked timer.
	gs = GameState{TimerActive: true, TimerDuration: 90, TimerStartTime: 0, TimeRemaining: 17}
	if got := Remaining(gs, now); got != 17 {
		t.Fatalf("active without start time: got %d, want 17", got)
	}
}

func TestTimerExpired(t *testing.T) {
	start := time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)
	gs := GameState{
		TimerActive:    true,
		TimerDuration:  90,
		TimerStartTime: start.UnixMilli(),
	}

	if TimerExpired(gs, start.Add(89*time.Second)) {
		t.Fatal("expired one second early")
	}
	if !TimerExpired(gs, start.Add(90*time.Second)) {
		t.Fatal("not expired at full duration")
	}
}
