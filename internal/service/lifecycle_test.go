package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hkhalifa/medledger-system/internal/model"
	"github.com/hkhalifa/medledger-system/internal/repository"
)

func TestRefreshStatuses_AppliesTransitions(t *testing.T) {
	now := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		advanceApplied: true,
		refreshItems: []model.Installment{
			// Срок прошёл вместе с отсрочкой: due → overdue.
			{ID: "inst-1", Seq: 1, DueDate: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), GraceDays: 3, Status: model.InstallmentStatusDue},
			// Срок сегодня: upcoming → due.
			{ID: "inst-2", Seq: 2, DueDate: time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC), Status: model.InstallmentStatusUpcoming},
			// Срок в будущем: статус не меняется.
			{ID: "inst-3", Seq: 3, DueDate: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), Status: model.InstallmentStatusUpcoming},
		},
	}
	svc := NewService(repo, nil, 1000, 5000)

	changed, err := svc.RefreshStatuses(context.Background(), now)
	if err != nil {
		t.Fatalf("RefreshStatuses error: %v", err)
	}

	if changed != 2 {
		t.Fatalf("transitions applied = %d, want 2", changed)
	}
	if repo.advanceCalls != 2 {
		t.Fatalf("advance calls = %d, want 2", repo.advanceCalls)
	}
	if len(repo.auditEntries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(repo.auditEntries))
	}

	for _, e := range repo.auditEntries {
		if e.Kind != model.AuditStatusRefreshed {
			t.Fatalf("audit kind = %s, want status_refreshed", e.Kind)
		}
		if e.ActorID != "system" {
			t.Fatalf("audit actor = %s, want system", e.ActorID)
		}
	}
}

func TestRefreshStatuses_ConcurrentPaymentWins(t *testing.T) {
	now := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		// Гвард не сработал: взнос уже в другом статусе после конкурентного платежа.
		advanceApplied: false,
		refreshItems: []model.Installment{
			{ID: "inst-1", Seq: 1, DueDate: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), Status: model.InstallmentStatusDue},
		},
	}
	svc := NewService(repo, nil, 1000, 5000)

	changed, err := svc.RefreshStatuses(context.Background(), now)
	if err != nil {
		t.Fatalf("RefreshStatuses error: %v", err)
	}

	if changed != 0 {
		t.Fatalf("transitions applied = %d, want 0", changed)
	}
	if len(repo.auditEntries) != 0 {
		t.Fatalf("skipped transition must not produce audit entries")
	}
}

func TestRefreshStatuses_SecondRunIsNoop(t *testing.T) {
	now := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		advanceApplied: true,
		refreshItems: []model.Installment{
			// Первый прогон уже довёл статус до overdue.
			{ID: "inst-1", Seq: 1, DueDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), Status: model.InstallmentStatusOverdue},
		},
	}
	svc := NewService(repo, nil, 1000, 5000)

	changed, err := svc.RefreshStatuses(context.Background(), now)
	if err != nil {
		t.Fatalf("RefreshStatuses error: %v", err)
	}

	if changed != 0 {
		t.Fatalf("transitions applied = %d, want 0", changed)
	}
	if repo.advanceCalls != 0 {
		t.Fatalf("no repository writes expected for settled statuses, got %d", repo.advanceCalls)
	}
}

func TestRescheduleInstallment_PaidRejected(t *testing.T) {
	repo := &stubRepo{rescheduleErr: repository.ErrInstallmentPaid}
	svc := NewService(repo, nil, 1000, 5000)

	newDue := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.RescheduleInstallment(context.Background(), "inst-1", newDue, "clinic asked for delay", testActor)
	if !errors.Is(err, repository.ErrInstallmentPaid) {
		t.Fatalf("expected ErrInstallmentPaid, got %v", err)
	}
}

func TestRescheduleInstallment_Success(t *testing.T) {
	newDue := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	prevDue := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		rescheduled: &model.Installment{
			ID:              "inst-1",
			DueDate:         newDue,
			Status:          model.InstallmentStatusUpcoming,
			RescheduledFrom: &prevDue,
		},
	}
	svc := NewService(repo, nil, 1000, 5000)

	it, err := svc.RescheduleInstallment(context.Background(), "inst-1", newDue, "clinic asked for delay", testActor)
	if err != nil {
		t.Fatalf("RescheduleInstallment error: %v", err)
	}
	if !it.DueDate.Equal(newDue) {
		t.Fatalf("due date = %v, want %v", it.DueDate, newDue)
	}
	if it.Status != model.InstallmentStatusUpcoming {
		t.Fatalf("status = %s, want upcoming", it.Status)
	}
	if it.RescheduledFrom == nil || !it.RescheduledFrom.Equal(prevDue) {
		t.Fatalf("rescheduled from = %v, want %v", it.RescheduledFrom, prevDue)
	}
}
