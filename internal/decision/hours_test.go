package decision

import (
	"testing"
	"time"
)

func TestWithinWindow(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatal(err)
	}
	for hour, want := range map[int]bool{0: false, 7: false, 8: true, 12: true, 17: true, 18: false, 23: false} {
		local := time.Date(2025, 6, 1, hour, 30, 0, 0, loc)
		if got := WithinWindow(local, 8, 18); got != want {
			t.Errorf("hour %d: expected %v, got %v", hour, want, got)
		}
	}
}

func TestNextOpening(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	early := time.Date(2025, 6, 1, 5, 45, 0, 0, loc)
	if got, want := NextOpening(early, 9), time.Date(2025, 6, 1, 9, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	late := time.Date(2025, 6, 30, 22, 0, 0, 0, loc)
	if got, want := NextOpening(late, 9), time.Date(2025, 7, 1, 9, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("expected month rollover to %v, got %v", want, got)
	}

	// Fall back: Nov 2 2025 has 25 hours, the opening stays at 09:00 wall clock.
	beforeFallBack := time.Date(2025, 11, 1, 20, 0, 0, 0, loc)
	got := NextOpening(beforeFallBack, 9)
	if got.Hour() != 9 || got.Day() != 2 {
		t.Errorf("expected 09:00 on Nov 2, got %v", got)
	}
	if got.Sub(beforeFallBack) != 14*time.Hour {
		t.Errorf("expected 14h until opening across fall back, got %v", got.Sub(beforeFallBack))
	}
}
