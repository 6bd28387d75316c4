package services_test

import (
	"errors"
	"strings"
	"testing"

	"loom/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrUnavailable, "generating", "complete", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"generating", "complete", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerDefaultsTransient(t *testing.T) {
	err := services.Wrap(nil, "planning", "plan", "no marker", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name   string
		marker error
		want   bool
	}{
		{"timeout", services.ErrTimeout, true},
		{"throttled", services.ErrThrottled, true},
		{"unavailable", services.ErrUnavailable, true},
		{"transient", services.ErrTransient, true},
		{"validation", services.ErrValidation, false},
		{"configuration", services.ErrConfiguration, false},
		{"not found", services.ErrNotFound, false},
		{"fatal", services.ErrFatal, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := services.Wrap(tc.marker, "stage", "op", "msg", nil)
			if got := services.IsRetryable(err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", err, got, tc.want)
			}
		})
	}
}

func TestIsRetryableUnclassified(t *testing.T) {
	if services.IsRetryable(errors.New("mystery")) {
		t.Fatal("unclassified errors must not be retried")
	}
	if services.IsRetryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
}

func TestIsFatal(t *testing.T) {
	fatal := services.Wrap(services.ErrFatal, "initializing", "model", "client init failed", nil)
	if !services.IsFatal(fatal) {
		t.Fatalf("expected fatal classification for %v", fatal)
	}
	if services.IsFatal(services.Wrap(services.ErrTimeout, "", "", "slow", nil)) {
		t.Fatal("timeout must not be fatal")
	}
	if services.IsFatal(nil) {
		t.Fatal("nil error must not be fatal")
	}
}
