package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hkhalifa/medledger-system/internal/model"
	"github.com/hkhalifa/medledger-system/internal/repository"
)

// BuildStep именует необязательные шаги сборки счёта.
type BuildStep string

const (
	StepUpfrontPayment BuildStep = "upfront_payment"
	StepSchedule       BuildStep = "schedule"
	StepAudit          BuildStep = "audit"
)

// LedgerBuildResult описывает результат сборки счёта по утверждённому заказу.
// Счёт создаётся всегда либо операция целиком завершается ошибкой; остальные шаги
// выполняются по принципу best effort, и их ошибки возвращаются в StepErrors,
// чтобы вызывающая сторона могла повторить только неудавшийся шаг.
type LedgerBuildResult struct {
	Invoice        *model.Invoice
	UpfrontPayment *model.Payment
	Schedule       *model.InstallmentSchedule
	Installments   []model.Installment
	StepErrors     map[BuildStep]error
}

// CreateInvoiceFromOrder строит счёт по снимку утверждённого заказа: выделяет номер,
// копирует позиции и суммы, раскладывает оплачено/остаток по заявленному статусу оплаты,
// подкрепляет предоплату платёжной записью и при необходимости разворачивает план отсрочки.
// Межзаписной транзакции нет: неудача побочного шага не откатывает уже созданный счёт.
// Повторная доставка того же события безопасна: существующий счёт переиспользуется,
// а выполняются только побочные шаги, которых ещё нет, поэтому неудавшийся шаг
// чинится повторной отправкой события.
func (s *Service) CreateInvoiceFromOrder(ctx context.Context, order model.OrderSnapshot, actor model.Actor, meta model.DisplayMeta) (*LedgerBuildResult, error) {
	paid, err := upfrontPaid(order)
	if err != nil {
		return nil, err
	}

	seq, err := s.repo.NextSequence(ctx, seqKeyInvoice, s.invoiceSeqStart)
	if err != nil {
		// Без номера счёт не создаётся: молчаливое повторное использование номеров недопустимо.
		return nil, fmt.Errorf("allocate invoice sequence: %w", err)
	}

	now := time.Now().UTC()
	inv := &model.Invoice{
		ID:              uuid.NewString(),
		Sequence:        seq,
		OrderID:         order.ID,
		OrderSerial:     order.SerialNumber,
		ClinicID:        order.ClinicID,
		ClinicName:      meta.ClinicName,
		CreatedByID:     actor.ID,
		CreatedByName:   meta.CreatorName,
		ApprovedByID:    actor.ID,
		ApprovedByName:  meta.ApproverName,
		AreaName:        meta.AreaName,
		ProductLine:     meta.ProductLine,
		Lines:           order.Lines,
		Subtotal:        order.Subtotal,
		Discount:        order.Discount,
		TotalAmount:     order.TotalAmount,
		PaidAmount:      paid,
		RemainingAmount: order.TotalAmount - paid,
		Status:          model.InvoiceStatusFor(order.TotalAmount-paid, order.TotalAmount),
		Payments:        []model.PaymentSummary{},
		CreatedAt:       now,
	}

	replay := false
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		if !errors.Is(err, repository.ErrInvoiceExists) {
			return nil, err
		}
		existing, getErr := s.repo.GetInvoiceByOrder(ctx, order.ID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status == model.InvoiceStatusCancelled {
			return nil, fmt.Errorf("%w: %s", repository.ErrInvoiceCancelled, existing.ID)
		}
		inv = existing
		replay = true
	}

	res := &LedgerBuildResult{Invoice: inv, StepErrors: map[BuildStep]error{}}

	if !replay {
		audit := newAuditEntry(model.AuditInvoiceCreated, "invoice", inv.ID, inv.Sequence, actor)
		audit.Detail = fmt.Sprintf("invoice created from order %s, payment status %s", order.SerialNumber, order.PaymentStatus)
		amount := inv.TotalAmount
		audit.Amount = &amount
		if err := s.repo.AppendAudit(ctx, audit); err != nil {
			res.StepErrors[StepAudit] = err
		}
	}

	if paid > 0 && order.PaymentMethod != "" {
		p, err := s.recordUpfrontPayment(ctx, inv, order, actor, paid)
		if err != nil {
			res.StepErrors[StepUpfrontPayment] = err
		} else {
			res.UpfrontPayment = p
		}
	}

	if inv.RemainingAmount > 0 && planRequested(order) {
		needSchedule := true
		if replay {
			has, err := s.repo.HasSchedule(ctx, inv.ID)
			if err != nil {
				res.StepErrors[StepSchedule] = err
				needSchedule = false
			} else {
				needSchedule = !has
			}
		}
		if needSchedule {
			sch, items, err := s.generateSchedule(ctx, inv, order, actor)
			if err != nil {
				res.StepErrors[StepSchedule] = err
			} else {
				res.Schedule = sch
				res.Installments = items
			}
		}
	}

	return res, nil
}

// upfrontPaid вычисляет оплаченную часть по заявленному статусу оплаты заказа.
// Для partial сумма прижимается к итогу счёта: кривой заказ не должен породить
// оплату больше итога. Это единственное место, где переплата гасится, а не отклоняется.
func upfrontPaid(order model.OrderSnapshot) (model.Cents, error) {
	switch order.PaymentStatus {
	case model.OrderPaidFull:
		return order.TotalAmount, nil
	case model.OrderPaidPartial:
		if order.AmountPaid > order.TotalAmount {
			return order.TotalAmount, nil
		}
		if order.AmountPaid < 0 {
			return 0, nil
		}
		return order.AmountPaid, nil
	case model.OrderPaidUnpaid:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPaymentStatus, order.PaymentStatus)
	}
}

func planRequested(order model.OrderSnapshot) bool {
	if order.ScheduleType == model.ScheduleCustom {
		return len(order.CustomInstallments) > 0
	}
	return order.FirstDueDate != nil && order.InstallmentsCount > 0
}

func (s *Service) recordUpfrontPayment(ctx context.Context, inv *model.Invoice, order model.OrderSnapshot, actor model.Actor, paid model.Cents) (*model.Payment, error) {
	seq, err := s.repo.NextSequence(ctx, seqKeyPayment, s.paymentSeqStart)
	if err != nil {
		return nil, fmt.Errorf("allocate payment sequence: %w", err)
	}

	p := &model.Payment{
		ID:            uuid.NewString(),
		Sequence:      seq,
		InvoiceID:     inv.ID,
		Amount:        paid,
		Method:        order.PaymentMethod,
		CollectorID:   actor.ID,
		CollectorName: actor.FullName,
		// Детерминированный ключ: повтор сборки счёта не плодит вторую предоплату.
		IdempotencyKey: "upfront-" + order.ID,
		CreatedAt:      time.Now().UTC(),
	}

	audit := newAuditEntry(model.AuditPaymentRecorded, "invoice", inv.ID, inv.Sequence, actor)
	audit.Detail = "upfront payment for order " + order.SerialNumber
	audit.Amount = &paid

	if err := s.repo.RecordUpfrontPayment(ctx, p, audit); err != nil {
		if errors.Is(err, repository.ErrDuplicatePayment) {
			return p, nil
		}
		return nil, err
	}
	return p, nil
}
