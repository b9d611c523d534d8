package clock

import (
	"testing"
	"time"
)

func TestNow_ReturnsCurrentTime(t *testing.T) {
	before := time.Now()
	result := Now()
	after := time.Now()

	if result.Before(before) || result.After(after) {
		t.Errorf("Now() returned %v, expected between %v and %v", result, before, after)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	mock.Advance(time.Hour)

	if got := mock.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("After Advance, Now() = %v, expected %v", got, start.Add(time.Hour))
	}
	if got := mock.Since(start); got != time.Hour {
		t.Errorf("Since() = %v, expected 1h", got)
	}
}

func TestMockClock_Set(t *testing.T) {
	mock := NewMockClock(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))

	newTime := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	mock.Set(newTime)

	if got := mock.Now(); !got.Equal(newTime) {
		t.Errorf("After Set, Now() = %v, expected %v", got, newTime)
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(RealClock); !ok {
		t.Error("OrReal(nil) should return RealClock")
	}
	mock := NewMockClock(time.Unix(0, 0))
	if OrReal(mock) != Clock(mock) {
		t.Error("OrReal should return the provided clock")
	}
}
