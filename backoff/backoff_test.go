package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/cadence/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_CappedSequence(t *testing.T) {
	e := backoff.NewExponential(60*time.Second, 300*time.Second)

	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 300 * time.Second, 300 * time.Second, 300 * time.Second}
	for i, w := range want {
		attempt := i + 1
		got := e.Delay(attempt)
		if got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
		if got > 300*time.Second {
			t.Errorf("Delay(%d) = %v exceeds cap", attempt, got)
		}
	}
}

func TestExponential_Uncapped(t *testing.T) {
	e := backoff.NewExponential(10*time.Second, 0)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{5, 160 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_NoOverflow(t *testing.T) {
	e := backoff.NewExponential(time.Hour, 0)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		got := e.Delay(attempt)
		if got < prev {
			t.Fatalf("Delay(%d) = %v decreased from %v", attempt, got, prev)
		}
		prev = got
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 8*time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			got := e.Delay(attempt)
			if got < 0 || got > 8*time.Second {
				t.Fatalf("Delay(%d) = %v out of [0, 8s]", attempt, got)
			}
		}
	}
}
