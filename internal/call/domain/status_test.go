package domain

import (
	"testing"
	"time"
)

func TestStatusMapperDefaultTable(t *testing.T) {
	m := NewStatusMapper(nil)
	cases := map[string]Status{
		"ANSWER":     StatusCompleted,
		"NOANSWER":   StatusMissed,
		"no_answer":  StatusMissed,
		"BUSY":       StatusHangup,
		"CANCEL":     StatusHangup,
		"FAILED":     StatusMissed,
		"CONGESTION": StatusMissed,
		" ringing ":  StatusRinging,
	}
	for in, want := range cases {
		got, ok := m.Map(in)
		if !ok || got != want {
			t.Fatalf("Map(%q): expected %s, got %s (known=%v)", in, want, got, ok)
		}
	}
}

func TestStatusMapperUnknownIsWaiting(t *testing.T) {
	got, ok := NewStatusMapper(nil).Map("TELEPORTED")
	if ok || got != StatusWaiting {
		t.Fatalf("expected unknown status to map to waiting, got %s known=%v", got, ok)
	}
}

func TestStatusMapperOverrides(t *testing.T) {
	m := NewStatusMapper(map[string]string{"VOICEMAIL": "missed", "WEIRD": "not-a-status"})
	if got, _ := m.Map("voicemail"); got != StatusMissed {
		t.Fatalf("expected override to apply, got %s", got)
	}
	if _, ok := m.Map("WEIRD"); ok {
		t.Fatalf("expected invalid override target to be ignored")
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusMissed, StatusHangup} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusWaiting, StatusRinging, StatusActive} {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestRankTieBreak(t *testing.T) {
	if StatusCompleted.Rank() <= StatusHangup.Rank() || StatusHangup.Rank() <= StatusActive.Rank() || StatusActive.Rank() <= StatusRinging.Rank() {
		t.Fatalf("unexpected rank order")
	}
	below := StatusesAtOrBelow(StatusHangup)
	for _, s := range below {
		if s == string(StatusCompleted) {
			t.Fatalf("hangup must not replace completed on a tie: %v", below)
		}
	}
	if len(StatusesAtOrBelow(StatusCompleted)) != 6 {
		t.Fatalf("completed should replace every status on a tie")
	}
}

func TestObservedAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	if !ObservedAt(&end, &start).Equal(end) || !ObservedAt(nil, &start).Equal(start) {
		t.Fatalf("expected end time, then start time")
	}
	if !ObservedAt(nil, nil).IsZero() {
		t.Fatalf("expected zero time without provider timestamps")
	}
}
