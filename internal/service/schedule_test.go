package service

import (
	"errors"
	"testing"
	"time"

	"github.com/hkhalifa/medledger-system/internal/model"
)

func due(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExpandPlan_Monthly(t *testing.T) {
	first := due(2025, time.January, 31)
	order := model.OrderSnapshot{
		ScheduleType:      model.ScheduleMonthly,
		InstallmentsCount: 3,
		FirstDueDate:      &first,
	}

	parts, dates, err := expandPlan(100000, order)
	if err != nil {
		t.Fatalf("expandPlan error: %v", err)
	}

	wantParts := []model.Cents{33333, 33333, 33334}
	for i := range wantParts {
		if parts[i] != wantParts[i] {
			t.Fatalf("part %d = %d, want %d", i, parts[i], wantParts[i])
		}
	}

	// День прижимается к концу короткого месяца.
	wantDates := []time.Time{
		due(2025, time.January, 31),
		due(2025, time.February, 28),
		due(2025, time.March, 31),
	}
	for i := range wantDates {
		if !dates[i].Equal(wantDates[i]) {
			t.Fatalf("date %d = %v, want %v", i, dates[i], wantDates[i])
		}
	}
}

func TestExpandPlan_Weekly(t *testing.T) {
	first := due(2025, time.March, 3)
	order := model.OrderSnapshot{
		ScheduleType:      model.ScheduleWeekly,
		InstallmentsCount: 2,
		FirstDueDate:      &first,
	}

	_, dates, err := expandPlan(20000, order)
	if err != nil {
		t.Fatalf("expandPlan error: %v", err)
	}

	if !dates[1].Equal(due(2025, time.March, 10)) {
		t.Fatalf("second date = %v, want %v", dates[1], due(2025, time.March, 10))
	}
}

func TestExpandPlan_RegularInterval(t *testing.T) {
	first := due(2025, time.March, 1)
	order := model.OrderSnapshot{
		ScheduleType:      model.ScheduleRegular,
		InstallmentsCount: 3,
		IntervalDays:      10,
		FirstDueDate:      &first,
	}

	_, dates, err := expandPlan(30000, order)
	if err != nil {
		t.Fatalf("expandPlan error: %v", err)
	}

	if !dates[2].Equal(due(2025, time.March, 21)) {
		t.Fatalf("third date = %v, want %v", dates[2], due(2025, time.March, 21))
	}
}

func TestExpandPlan_RegularWithoutInterval(t *testing.T) {
	first := due(2025, time.March, 1)
	order := model.OrderSnapshot{
		ScheduleType:      model.ScheduleRegular,
		InstallmentsCount: 3,
		FirstDueDate:      &first,
	}

	_, _, err := expandPlan(30000, order)
	if !errors.Is(err, ErrBadSchedulePlan) {
		t.Fatalf("expected ErrBadSchedulePlan, got %v", err)
	}
}

func TestExpandPlan_MissingFirstDueDate(t *testing.T) {
	order := model.OrderSnapshot{
		ScheduleType:      model.ScheduleMonthly,
		InstallmentsCount: 3,
	}

	_, _, err := expandPlan(30000, order)
	if !errors.Is(err, ErrBadSchedulePlan) {
		t.Fatalf("expected ErrBadSchedulePlan, got %v", err)
	}
}

func TestExpandPlan_NonPositiveCount(t *testing.T) {
	first := due(2025, time.March, 1)
	order := model.OrderSnapshot{
		ScheduleType:      model.ScheduleMonthly,
		InstallmentsCount: 0,
		FirstDueDate:      &first,
	}

	_, _, err := expandPlan(30000, order)
	if !errors.Is(err, ErrBadSchedulePlan) {
		t.Fatalf("expected ErrBadSchedulePlan, got %v", err)
	}
}

func TestExpandPlan_Custom(t *testing.T) {
	order := model.OrderSnapshot{
		ScheduleType: model.ScheduleCustom,
		CustomInstallments: []model.CustomInstallment{
			{Amount: 70000, DueDate: due(2025, time.April, 1)},
			{Amount: 30000, DueDate: due(2025, time.June, 15)},
		},
	}

	parts, dates, err := expandPlan(100000, order)
	if err != nil {
		t.Fatalf("expandPlan error: %v", err)
	}

	if parts[0] != 70000 || parts[1] != 30000 {
		t.Fatalf("parts = %v, want [70000 30000]", parts)
	}
	if !dates[1].Equal(due(2025, time.June, 15)) {
		t.Fatalf("second date = %v, want %v", dates[1], due(2025, time.June, 15))
	}
}

func TestExpandPlan_CustomSumMismatch(t *testing.T) {
	order := model.OrderSnapshot{
		ScheduleType: model.ScheduleCustom,
		CustomInstallments: []model.CustomInstallment{
			{Amount: 70000, DueDate: due(2025, time.April, 1)},
			{Amount: 40000, DueDate: due(2025, time.June, 15)},
		},
	}

	_, _, err := expandPlan(100000, order)
	if !errors.Is(err, ErrCustomSumMismatch) {
		t.Fatalf("expected ErrCustomSumMismatch, got %v", err)
	}
}

func TestExpandPlan_CustomNonPositiveAmount(t *testing.T) {
	order := model.OrderSnapshot{
		ScheduleType: model.ScheduleCustom,
		CustomInstallments: []model.CustomInstallment{
			{Amount: -100, DueDate: due(2025, time.April, 1)},
		},
	}

	_, _, err := expandPlan(100000, order)
	if !errors.Is(err, ErrBadSchedulePlan) {
		t.Fatalf("expected ErrBadSchedulePlan, got %v", err)
	}
}

func TestExpandPlan_CustomEmpty(t *testing.T) {
	order := model.OrderSnapshot{ScheduleType: model.ScheduleCustom}

	_, _, err := expandPlan(100000, order)
	if !errors.Is(err, ErrBadSchedulePlan) {
		t.Fatalf("expected ErrBadSchedulePlan, got %v", err)
	}
}
