package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hkhalifa/medledger-system/internal/model"
)

// generateSchedule разворачивает остаток счёта в план отсрочки и серию взносов.
// Для monthly/weekly/regular остаток делится поровну, остаток деления забирает
// последний взнос; для custom суммы и даты задаёт вызывающая сторона, и их сумма
// обязана сойтись с остатком счёта до цента.
func (s *Service) generateSchedule(ctx context.Context, inv *model.Invoice, order model.OrderSnapshot, actor model.Actor) (*model.InstallmentSchedule, []model.Installment, error) {
	parts, dueDates, err := expandPlan(inv.RemainingAmount, order)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	sch := &model.InstallmentSchedule{
		ID:           uuid.NewString(),
		InvoiceID:    inv.ID,
		Type:         order.ScheduleType,
		TotalAmount:  inv.RemainingAmount,
		Count:        len(parts),
		IntervalDays: order.IntervalDays,
		GraceDays:    order.GracePeriodDays,
		FirstDueDate: dueDates[0],
		CreatedByID:  actor.ID,
		CreatedAt:    now,
	}

	items := make([]model.Installment, len(parts))
	for i := range parts {
		items[i] = model.Installment{
			ID:              uuid.NewString(),
			ScheduleID:      sch.ID,
			InvoiceID:       inv.ID,
			ClinicID:        inv.ClinicID,
			Seq:             i + 1,
			Amount:          parts[i],
			PaidAmount:      0,
			RemainingAmount: parts[i],
			DueDate:         dueDates[i],
			GraceDays:       order.GracePeriodDays,
			Status:          model.InstallmentStatusUpcoming,
			PaymentIDs:      []string{},
			CreatedAt:       now,
		}
	}

	audit := newAuditEntry(model.AuditScheduleCreated, "invoice", inv.ID, inv.Sequence, actor)
	audit.Detail = fmt.Sprintf("%s schedule, %d installments", sch.Type, sch.Count)
	amount := sch.TotalAmount
	audit.Amount = &amount

	if err := s.repo.CreateSchedule(ctx, sch, items, audit); err != nil {
		return nil, nil, err
	}
	return sch, items, nil
}

func expandPlan(remaining model.Cents, order model.OrderSnapshot) ([]model.Cents, []time.Time, error) {
	if order.ScheduleType == model.ScheduleCustom {
		return expandCustomPlan(remaining, order.CustomInstallments)
	}

	if order.FirstDueDate == nil {
		return nil, nil, fmt.Errorf("%w: first due date is required", ErrBadSchedulePlan)
	}
	if order.InstallmentsCount <= 0 {
		return nil, nil, fmt.Errorf("%w: installments count must be positive", ErrBadSchedulePlan)
	}

	first := order.FirstDueDate.UTC()
	dueDates := make([]time.Time, order.InstallmentsCount)

	switch order.ScheduleType {
	case model.ScheduleMonthly:
		for i := range dueDates {
			dueDates[i] = model.AddMonths(first, i)
		}
	case model.ScheduleWeekly:
		for i := range dueDates {
			dueDates[i] = first.AddDate(0, 0, 7*i)
		}
	case model.ScheduleRegular:
		if order.IntervalDays <= 0 {
			return nil, nil, fmt.Errorf("%w: interval days must be positive", ErrBadSchedulePlan)
		}
		for i := range dueDates {
			dueDates[i] = first.AddDate(0, 0, i*order.IntervalDays)
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown schedule type %q", ErrBadSchedulePlan, order.ScheduleType)
	}

	return remaining.SplitEven(order.InstallmentsCount), dueDates, nil
}

func expandCustomPlan(remaining model.Cents, custom []model.CustomInstallment) ([]model.Cents, []time.Time, error) {
	if len(custom) == 0 {
		return nil, nil, fmt.Errorf("%w: custom plan requires explicit installments", ErrBadSchedulePlan)
	}

	parts := make([]model.Cents, len(custom))
	dueDates := make([]time.Time, len(custom))
	var sum model.Cents
	for i, c := range custom {
		if c.Amount <= 0 {
			return nil, nil, fmt.Errorf("%w: custom installment %d amount must be positive", ErrBadSchedulePlan, i+1)
		}
		parts[i] = c.Amount
		dueDates[i] = c.DueDate.UTC()
		sum += c.Amount
	}

	if sum != remaining {
		return nil, nil, fmt.Errorf("%w: got %d, remaining %d", ErrCustomSumMismatch, sum, remaining)
	}
	return parts, dueDates, nil
}
