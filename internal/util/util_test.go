package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0

	err := RetryIf(context.Background(), 5, 0,
		func(err error) bool { return !errors.Is(err, permanent) },
		func() error {
			attempts++
			return permanent
		})

	if !errors.Is(err, permanent) {
		t.Fatalf("RetryIf returned %v, want %v", err, permanent)
	}
	if attempts != 1 {
		t.Errorf("RetryIf called fn %d times, want 1", attempts)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "debug", "json").Debug("opening position", "symbol", "600000")
	if !strings.Contains(buf.String(), `"symbol":"600000"`) {
		t.Errorf("json logger output = %q, want JSON attribute", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, "info", "text").Info("run complete", "trades", 3)
	if !strings.Contains(buf.String(), "trades=3") {
		t.Errorf("text logger output = %q, want text attribute", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, "warn", "text").Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("warn logger emitted info record: %q", buf.String())
	}
}

func TestCalendarDays(t *testing.T) {
	from := time.Date(2024, 1, 30, 15, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 6, 9, 0, 0, 0, time.UTC)
	if got := CalendarDays(from, to); got != 7 {
		t.Errorf("CalendarDays = %d, want 7", got)
	}
	if got := CalendarDays(to, from); got != -7 {
		t.Errorf("CalendarDays reversed = %d, want -7", got)
	}
}

func TestNewRunIDIncreasing(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	if len(a) != 26 {
		t.Errorf("NewRunID length = %d, want 26", len(a))
	}
	if !(a < b) {
		t.Errorf("NewRunID not increasing: %q then %q", a, b)
	}
}
