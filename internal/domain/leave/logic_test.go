package leave

import (
	"testing"
	"time"
)

func TestCalculateDays(t *testing.T) {
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	days, err := CalculateDays(start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days.IntPart() != 1 {
		t.Fatalf("expected 1 day, got %v", days)
	}

	end = time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)
	days, err = CalculateDays(start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days.IntPart() != 3 {
		t.Fatalf("expected 3 days, got %v", days)
	}
}

func TestCalculateDaysInvalid(t *testing.T) {
	start := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC)

	_, err := CalculateDays(start, end)
	if err == nil {
		t.Fatal("expected error for invalid range")
	}
}

func TestCalculateRequestDaysHalfDays(t *testing.T) {
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	days, err := CalculateRequestDays(day, day.AddDate(0, 0, 1), true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days.String() != "1.5" {
		t.Fatalf("expected 1.5 days, got %s", days)
	}

	if _, err := CalculateRequestDays(day, day, true, true); err == nil {
		t.Fatal("expected error for a single day with both halves off")
	}
}

func TestNetWorkingDaysSkipsWeekendsAndHolidays(t *testing.T) {
	// Thursday 2025-05-01 to Wednesday 2025-05-07, with May 1 a holiday
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 5, 7, 0, 0, 0, 0, time.UTC)
	holidays := []time.Time{start}

	net, err := NetWorkingDays(start, end, false, true, holidays)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Fri, Mon, Tue, half of Wed
	if net.String() != "3.5" {
		t.Fatalf("expected 3.5 working days, got %s", net)
	}

	// a half day starting on the holiday changes nothing
	net, err = NetWorkingDays(start, end, true, false, holidays)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if net.String() != "4" {
		t.Fatalf("expected 4 working days, got %s", net)
	}
}
