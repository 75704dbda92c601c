package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hkhalifa/medledger-system/internal/model"
)

// PaymentRequest описывает запрос на запись платежа.
type PaymentRequest struct {
	Amount         model.Cents
	Method         string
	ReceiptRef     string
	IdempotencyKey string
}

func (s *Service) buildPayment(ctx context.Context, req PaymentRequest, actor model.Actor) (*model.Payment, error) {
	if req.Amount <= 0 {
		return nil, ErrAmountNotPositive
	}
	if req.IdempotencyKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}

	// Номер резервируется до записи: даже если запись не удастся, номер
	// не будет переиспользован и коллизий не возникнет.
	seq, err := s.repo.NextSequence(ctx, seqKeyPayment, s.paymentSeqStart)
	if err != nil {
		return nil, fmt.Errorf("allocate payment sequence: %w", err)
	}

	return &model.Payment{
		ID:             uuid.NewString(),
		Sequence:       seq,
		Amount:         req.Amount,
		Method:         req.Method,
		CollectorID:    actor.ID,
		CollectorName:  actor.FullName,
		ReceiptRef:     req.ReceiptRef,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// RecordInvoicePayment записывает платёж напрямую по счёту.
// Переплата отклоняется и не меняет состояние.
func (s *Service) RecordInvoicePayment(ctx context.Context, invoiceID string, req PaymentRequest, actor model.Actor) (*model.Invoice, error) {
	p, err := s.buildPayment(ctx, req, actor)
	if err != nil {
		return nil, err
	}
	p.InvoiceID = invoiceID

	audit := newAuditEntry(model.AuditPaymentRecorded, "invoice", invoiceID, p.Sequence, actor)
	audit.Detail = "invoice payment, method " + p.Method
	amount := p.Amount
	audit.Amount = &amount

	return s.repo.ApplyInvoicePayment(ctx, p, audit)
}

// RecordInstallmentPayment записывает платёж по взносу и протягивает сумму
// в балансы родительского счёта.
func (s *Service) RecordInstallmentPayment(ctx context.Context, installmentID string, req PaymentRequest, actor model.Actor) (*model.Installment, *model.Invoice, error) {
	p, err := s.buildPayment(ctx, req, actor)
	if err != nil {
		return nil, nil, err
	}

	it, err := s.repo.GetInstallment(ctx, installmentID)
	if err != nil {
		return nil, nil, err
	}
	p.InvoiceID = it.InvoiceID
	p.InstallmentID = &it.ID

	audit := newAuditEntry(model.AuditPaymentRecorded, "installment", installmentID, p.Sequence, actor)
	audit.Detail = "installment payment, method " + p.Method
	amount := p.Amount
	audit.Amount = &amount

	return s.repo.ApplyInstallmentPayment(ctx, p, audit)
}
