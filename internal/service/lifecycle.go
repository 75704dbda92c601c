package service

import (
	"context"
	"time"

	"github.com/hkhalifa/medledger-system/internal/model"
)

// RefreshStatuses пересчитывает временные статусы всех незакрытых взносов на момент now
// и возвращает число применённых переходов. Операция идемпотентна: повторный запуск
// с тем же временем не даёт новых переходов. Конкурентный платёж имеет приоритет —
// переход применяется только из того статуса, который видел пересчёт.
func (s *Service) RefreshStatuses(ctx context.Context, now time.Time) (int, error) {
	items, err := s.repo.ListForStatusRefresh(ctx)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, it := range items {
		next := model.TimeStatusFor(now, it.DueDate, it.GraceDays, it.Status)
		if next == it.Status {
			continue
		}

		applied, err := s.repo.AdvanceInstallmentStatus(ctx, it.ID, it.Status, next)
		if err != nil {
			return changed, err
		}
		if !applied {
			continue
		}
		changed++

		audit := newAuditEntry(model.AuditStatusRefreshed, "installment", it.ID, int64(it.Seq), systemActor)
		audit.BeforeValue = string(it.Status)
		audit.AfterValue = string(next)
		_ = s.repo.AppendAudit(ctx, audit)
	}

	return changed, nil
}

// RescheduleInstallment переносит срок взноса на новую дату. Оплаченный взнос
// переносить нельзя; прежний срок сохраняется, статус сбрасывается в upcoming.
func (s *Service) RescheduleInstallment(ctx context.Context, id string, newDue time.Time, reason string, actor model.Actor) (*model.Installment, error) {
	audit := newAuditEntry(model.AuditInstallmentRescheduled, "installment", id, 0, actor)
	audit.Detail = reason
	return s.repo.RescheduleInstallment(ctx, id, newDue.UTC(), reason, actor.ID, audit)
}

// DueSoon возвращает неоплаченные взносы со сроком в ближайшие days дней —
// запрос для внешней рассылки напоминаний.
func (s *Service) DueSoon(ctx context.Context, now time.Time, days int) ([]model.Installment, error) {
	return s.repo.ListDueWithin(ctx, now, days)
}
