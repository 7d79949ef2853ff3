package backoff_test

import (
	"testing"
	"time"

	"github.com/hirelane/taskcore/backoff"
)

func TestFixed(t *testing.T) {
	f := backoff.Fixed{Interval: 5 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := f.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestLinear(t *testing.T) {
	l := backoff.Linear{Base: time.Second, Max: 5 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{3, 3 * time.Second},
		{5, 5 * time.Second},
		{40, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.Exponential{Base: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second}, // 10 * 2^0
		{2, 20 * time.Second}, // 10 * 2^1
		{3, 40 * time.Second},
		{4, 80 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.Exponential{Base: time.Second, Max: 10 * time.Second}
	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want 10s", got)
	}
	if got := e.Delay(200); got != 10*time.Second {
		t.Errorf("Delay(200) = %v, want 10s", got)
	}
}

func TestJitter_WithinBounds(t *testing.T) {
	j := backoff.Jitter{Base: time.Second, Max: 10 * time.Second}
	seen := make(map[time.Duration]bool)
	for attempt := 1; attempt <= 5; attempt++ {
		for range 100 {
			got := j.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Fatalf("Delay(%d) = %v, out of [0, 10s]", attempt, got)
			}
			seen[got] = true
		}
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got %d distinct values", len(seen))
	}
}

func TestPolicy_Strategy(t *testing.T) {
	tests := []struct {
		name   string
		policy backoff.Policy
		want   time.Duration // delay for attempt 3
	}{
		{"empty type is exponential", backoff.Policy{BaseDelay: time.Second}, 4 * time.Second},
		{"exponential", backoff.Policy{Type: backoff.TypeExponential, BaseDelay: time.Second}, 4 * time.Second},
		{"fixed", backoff.Policy{Type: backoff.TypeFixed, BaseDelay: time.Second}, time.Second},
		{"linear", backoff.Policy{Type: backoff.TypeLinear, BaseDelay: time.Second}, 3 * time.Second},
		{"capped", backoff.Policy{Type: backoff.TypeExponential, BaseDelay: time.Second, MaxDelay: 2 * time.Second}, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Strategy().Delay(3); got != tt.want {
				t.Errorf("Delay(3) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := backoff.DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if err := (backoff.Policy{Type: "fibonacci"}).Validate(); err == nil {
		t.Error("expected error for unknown type")
	}
	if err := (backoff.Policy{BaseDelay: -time.Second}).Validate(); err == nil {
		t.Error("expected error for negative delay")
	}
}
