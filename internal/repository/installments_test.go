package repository

import (
	"testing"
	"time"
)

func TestDueWindow(t *testing.T) {
	now := time.Date(2025, time.March, 10, 17, 30, 45, 0, time.UTC)
	start, end := dueWindow(now, 3)

	wantStart := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)

	if !start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", end, wantEnd)
	}

	// Взнос со сроком в полночь текущего дня входит в окно при вызове в любое время суток.
	dueToday := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	if dueToday.Before(start) || !dueToday.Before(end) {
		t.Fatalf("installment due today fell out of window [%v, %v)", start, end)
	}
}
