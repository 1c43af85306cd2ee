package dispatch

import (
	"testing"
	"time"
)

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	base := 30 * time.Second
	max := 15 * time.Minute

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 1 * time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
	}

	for _, tc := range cases {
		if got := Backoff(base, max, tc.attempt); got != tc.want {
			t.Errorf("Backoff(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoff_CappedAtMax(t *testing.T) {
	base := 30 * time.Second
	max := 15 * time.Minute

	for attempt := 6; attempt <= 20; attempt++ {
		if got := Backoff(base, max, attempt); got != max {
			t.Errorf("Backoff(attempt=%d) = %v, want cap %v", attempt, got, max)
		}
	}
}

func TestBackoff_AttemptFloor(t *testing.T) {
	if got := Backoff(time.Second, time.Minute, 0); got != time.Second {
		t.Errorf("Backoff(attempt=0) = %v, want %v", got, time.Second)
	}
	if got := Backoff(time.Second, time.Minute, -3); got != time.Second {
		t.Errorf("Backoff(attempt=-3) = %v, want %v", got, time.Second)
	}
}

func TestBackoff_BaseAboveMax(t *testing.T) {
	if got := Backoff(time.Hour, time.Minute, 1); got != time.Minute {
		t.Errorf("Backoff(base>max) = %v, want %v", got, time.Minute)
	}
}
