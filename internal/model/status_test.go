package model

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestInvoiceStatusFor(t *testing.T) {
	tests := []struct {
		name      string
		remaining Cents
		total     Cents
		want      InvoiceStatus
	}{
		{
			name:      "nothing paid",
			remaining: 1000,
			total:     1000,
			want:      InvoiceStatusPending,
		},
		{
			name:      "partially paid",
			remaining: 500,
			total:     1000,
			want:      InvoiceStatusPartial,
		},
		{
			name:      "fully paid",
			remaining: 0,
			total:     1000,
			want:      InvoiceStatusPaid,
		},
		{
			name:      "zero total is paid",
			remaining: 0,
			total:     0,
			want:      InvoiceStatusPaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InvoiceStatusFor(tt.remaining, tt.total)
			if got != tt.want {
				t.Fatalf("InvoiceStatusFor(%d, %d) = %s, want %s", tt.remaining, tt.total, got, tt.want)
			}
		})
	}
}

func TestInstallmentStatusForBalance(t *testing.T) {
	if got := InstallmentStatusForBalance(0); got != InstallmentStatusPaid {
		t.Fatalf("zero remaining = %s, want paid", got)
	}
	if got := InstallmentStatusForBalance(1); got != InstallmentStatusPartial {
		t.Fatalf("positive remaining = %s, want partial", got)
	}
}

func TestTimeStatusFor(t *testing.T) {
	due := date(2025, time.March, 10)

	tests := []struct {
		name      string
		now       time.Time
		graceDays int
		current   InstallmentStatus
		want      InstallmentStatus
	}{
		{
			name:    "before due date",
			now:     date(2025, time.March, 9),
			current: InstallmentStatusUpcoming,
			want:    InstallmentStatusUpcoming,
		},
		{
			name:    "on due date",
			now:     date(2025, time.March, 10),
			current: InstallmentStatusUpcoming,
			want:    InstallmentStatusDue,
		},
		{
			name:    "late evening of due date is still due",
			now:     time.Date(2025, time.March, 10, 23, 59, 0, 0, time.UTC),
			current: InstallmentStatusUpcoming,
			want:    InstallmentStatusDue,
		},
		{
			name:      "inside grace period",
			now:       date(2025, time.March, 12),
			graceDays: 3,
			current:   InstallmentStatusDue,
			want:      InstallmentStatusGrace,
		},
		{
			name:      "last day of grace period",
			now:       date(2025, time.March, 13),
			graceDays: 3,
			current:   InstallmentStatusGrace,
			want:      InstallmentStatusGrace,
		},
		{
			name:      "past grace period",
			now:       date(2025, time.March, 14),
			graceDays: 3,
			current:   InstallmentStatusGrace,
			want:      InstallmentStatusOverdue,
		},
		{
			name:    "no grace period goes straight to overdue",
			now:     date(2025, time.March, 11),
			current: InstallmentStatusDue,
			want:    InstallmentStatusOverdue,
		},
		{
			name:    "paid is owned by the payment path",
			now:     date(2025, time.April, 1),
			current: InstallmentStatusPaid,
			want:    InstallmentStatusPaid,
		},
		{
			name:    "partial is owned by the payment path",
			now:     date(2025, time.April, 1),
			current: InstallmentStatusPartial,
			want:    InstallmentStatusPartial,
		},
		{
			name:    "cancelled is owned by invoice cancellation",
			now:     date(2025, time.April, 1),
			current: InstallmentStatusCancelled,
			want:    InstallmentStatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeStatusFor(tt.now, due, tt.graceDays, tt.current)
			if got != tt.want {
				t.Fatalf("TimeStatusFor = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTimeStatusForIdempotent(t *testing.T) {
	due := date(2025, time.March, 10)
	now := date(2025, time.March, 12)

	first := TimeStatusFor(now, due, 3, InstallmentStatusUpcoming)
	second := TimeStatusFor(now, due, 3, first)
	if first != second {
		t.Fatalf("repeated refresh changed status: %s then %s", first, second)
	}
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		n    int
		want time.Time
	}{
		{
			name: "plain month",
			from: date(2025, time.January, 15),
			n:    1,
			want: date(2025, time.February, 15),
		},
		{
			name: "january 31 clamps to february 28",
			from: date(2025, time.January, 31),
			n:    1,
			want: date(2025, time.February, 28),
		},
		{
			name: "january 31 clamps to february 29 in leap year",
			from: date(2024, time.January, 31),
			n:    1,
			want: date(2024, time.February, 29),
		},
		{
			name: "clamped only for short target month",
			from: date(2025, time.January, 31),
			n:    2,
			want: date(2025, time.March, 31),
		},
		{
			name: "year rollover",
			from: date(2025, time.November, 30),
			n:    3,
			want: date(2026, time.February, 28),
		},
		{
			name: "zero months",
			from: date(2025, time.May, 20),
			n:    0,
			want: date(2025, time.May, 20),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddMonths(tt.from, tt.n)
			if !got.Equal(tt.want) {
				t.Fatalf("AddMonths(%v, %d) = %v, want %v", tt.from, tt.n, got, tt.want)
			}
		})
	}
}

func TestRatingForScore(t *testing.T) {
	tests := []struct {
		score int
		want  CreditRating
	}{
		{100, RatingA},
		{90, RatingA},
		{89, RatingB},
		{75, RatingB},
		{74, RatingC},
		{60, RatingC},
		{59, RatingD},
		{40, RatingD},
		{39, RatingF},
		{0, RatingF},
	}

	for _, tt := range tests {
		if got := RatingForScore(tt.score); got != tt.want {
			t.Fatalf("RatingForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
