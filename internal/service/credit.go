package service

import (
	"context"
	"time"

	"github.com/hkhalifa/medledger-system/internal/model"
)

// Штрафы и бонусы оценки платёжной дисциплины.
const (
	creditBase         = 100
	penaltyOverdue     = 5
	penaltyLatePaid    = 2
	penaltyPerLateWeek = 1
	bonusOnTime        = 2
	bonusOnTimeCap     = 20
)

// ScoreClinic пересчитывает оценку платёжной дисциплины клиники по всей истории
// взносов и кэширует результат. Кэш — производное представление: его всегда можно
// выбросить и пересчитать заново.
func (s *Service) ScoreClinic(ctx context.Context, clinicID string, now time.Time) (*model.ClinicCreditScore, error) {
	items, err := s.repo.ListInstallmentsByClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	var onTime, late, overdue, lateDays int
	for _, it := range items {
		switch {
		case it.Status == model.InstallmentStatusPaid && it.PaidAt != nil:
			if daysLate(it.DueDate, *it.PaidAt) > 0 {
				late++
				lateDays += daysLate(it.DueDate, *it.PaidAt)
			} else {
				onTime++
			}
		case it.Status == model.InstallmentStatusOverdue:
			overdue++
			lateDays += daysLate(it.DueDate, now)
		}
	}

	bonus := bonusOnTime * onTime
	if bonus > bonusOnTimeCap {
		bonus = bonusOnTimeCap
	}

	score := creditBase - penaltyOverdue*overdue - penaltyPerLateWeek*(lateDays/7) - penaltyLatePaid*late + bonus
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	result := &model.ClinicCreditScore{
		ClinicID:     clinicID,
		Score:        score,
		Rating:       model.RatingForScore(score),
		OnTimeCount:  onTime,
		LateCount:    late,
		OverdueCount: overdue,
		ComputedAt:   now,
	}

	if err := s.repo.UpsertCreditScore(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// daysLate считает полные дни просрочки между сроком и фактом (или текущим моментом).
func daysLate(due, at time.Time) int {
	d := int(at.Truncate(24*time.Hour).Sub(due.Truncate(24*time.Hour)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
