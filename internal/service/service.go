// Package service реализует бизнес-логику биллингового ядра.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hkhalifa/medledger-system/internal/model"
	"github.com/hkhalifa/medledger-system/internal/notify"
)

// Ключи счётчиков человекочитаемых номеров.
const (
	seqKeyInvoice = "invoice"
	seqKeyPayment = "payment"
)

// ErrAmountNotPositive возвращается для платежа с нулевой или отрицательной суммой.
var (
	ErrAmountNotPositive = errors.New("payment amount must be positive")
	// ErrIdempotencyKeyRequired возвращается, если клиент не передал ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrUnknownPaymentStatus возвращается для заказа с нераспознанным статусом оплаты.
	ErrUnknownPaymentStatus = errors.New("unknown order payment status")
	// ErrBadSchedulePlan возвращается для некорректных параметров плана отсрочки.
	ErrBadSchedulePlan = errors.New("invalid installment plan")
	// ErrCustomSumMismatch возвращается, если суммы custom-взносов не сходятся с остатком.
	ErrCustomSumMismatch = errors.New("custom installment amounts do not sum to remaining balance")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	NextSequence(ctx context.Context, key string, startFrom int64) (int64, error)

	CreateInvoice(ctx context.Context, inv *model.Invoice) error
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, clinicID string, status model.InvoiceStatus) ([]model.Invoice, error)
	CancelInvoice(ctx context.Context, id string, audit *model.AuditLogEntry) (*model.Invoice, error)

	CreateSchedule(ctx context.Context, sch *model.InstallmentSchedule, items []model.Installment, audit *model.AuditLogEntry) error
	HasSchedule(ctx context.Context, invoiceID string) (bool, error)
	GetInstallment(ctx context.Context, id string) (*model.Installment, error)
	ListInstallmentsByInvoice(ctx context.Context, invoiceID string) ([]model.Installment, error)
	ListInstallmentsByClinic(ctx context.Context, clinicID string) ([]model.Installment, error)
	ListDueWithin(ctx context.Context, now time.Time, days int) ([]model.Installment, error)
	ListForStatusRefresh(ctx context.Context) ([]model.Installment, error)
	AdvanceInstallmentStatus(ctx context.Context, id string, from, to model.InstallmentStatus) (bool, error)
	RescheduleInstallment(ctx context.Context, id string, newDue time.Time, reason, actorID string, audit *model.AuditLogEntry) (*model.Installment, error)

	ApplyInvoicePayment(ctx context.Context, p *model.Payment, audit *model.AuditLogEntry) (*model.Invoice, error)
	ApplyInstallmentPayment(ctx context.Context, p *model.Payment, audit *model.AuditLogEntry) (*model.Installment, *model.Invoice, error)
	RecordUpfrontPayment(ctx context.Context, p *model.Payment, audit *model.AuditLogEntry) error
	ListPaymentsByInvoice(ctx context.Context, invoiceID string) ([]model.Payment, error)

	AppendAudit(ctx context.Context, e *model.AuditLogEntry) error
	ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]model.AuditLogEntry, error)

	UpsertCreditScore(ctx context.Context, s *model.ClinicCreditScore) error
	GetCreditScore(ctx context.Context, clinicID string) (*model.ClinicCreditScore, error)
	Summary(ctx context.Context) (*model.LedgerSummary, error)
}

// Service содержит бизнес-логику биллингового ядра.
type Service struct {
	repo         Repository
	notifyClient *notify.Client

	invoiceSeqStart int64
	paymentSeqStart int64
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом уведомлений.
func NewService(repo Repository, notifyClient *notify.Client, invoiceSeqStart, paymentSeqStart int64) *Service {
	return &Service{
		repo:            repo,
		notifyClient:    notifyClient,
		invoiceSeqStart: invoiceSeqStart,
		paymentSeqStart: paymentSeqStart,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// GetInvoice возвращает счёт по идентификатору.
func (s *Service) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices возвращает счета по фильтру клиники и статуса.
func (s *Service) ListInvoices(ctx context.Context, clinicID string, status model.InvoiceStatus) ([]model.Invoice, error) {
	return s.repo.ListInvoices(ctx, clinicID, status)
}

// ListInstallmentsByInvoice возвращает взносы счёта.
func (s *Service) ListInstallmentsByInvoice(ctx context.Context, invoiceID string) ([]model.Installment, error) {
	return s.repo.ListInstallmentsByInvoice(ctx, invoiceID)
}

// ListPaymentsByInvoice возвращает платежи счёта.
func (s *Service) ListPaymentsByInvoice(ctx context.Context, invoiceID string) ([]model.Payment, error) {
	return s.repo.ListPaymentsByInvoice(ctx, invoiceID)
}

// ListAudit возвращает записи журнала аудита по сущности.
func (s *Service) ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]model.AuditLogEntry, error) {
	return s.repo.ListAudit(ctx, entityType, entityID, limit)
}

// Summary возвращает агрегаты для дашбордов.
func (s *Service) Summary(ctx context.Context) (*model.LedgerSummary, error) {
	return s.repo.Summary(ctx)
}

// CancelInvoice отменяет счёт без принятых платежей. Отмена — это статус, а не удаление.
func (s *Service) CancelInvoice(ctx context.Context, id string, actor model.Actor) (*model.Invoice, error) {
	audit := newAuditEntry(model.AuditInvoiceCancelled, "invoice", id, 0, actor)
	audit.Detail = "invoice cancelled"
	return s.repo.CancelInvoice(ctx, id, audit)
}

// StartStatusRefresh запускает фоновый пересчёт временных статусов взносов.
func (s *Service) StartStatusRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.RefreshStatuses(ctx, time.Now().UTC())
			}
		}
	}()
}

// StartReminderDispatch запускает фоновую отправку напоминаний о близких взносах
// во внешний сервис уведомлений.
func (s *Service) StartReminderDispatch(ctx context.Context, interval time.Duration, days int) {
	if s.notifyClient == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.dispatchReminders(ctx, days)
			}
		}
	}()
}

func (s *Service) dispatchReminders(ctx context.Context, days int) {
	items, err := s.repo.ListDueWithin(ctx, time.Now().UTC(), days)
	if err != nil {
		return
	}

	for _, it := range items {
		_ = s.notifyClient.SendReminder(ctx, notify.Reminder{
			InstallmentID: it.ID,
			InvoiceID:     it.InvoiceID,
			ClinicID:      it.ClinicID,
			Amount:        it.RemainingAmount.Float(),
			DueDate:       it.DueDate,
		})
	}
}

func newAuditEntry(kind model.AuditKind, entityType, entityID string, entitySeq int64, actor model.Actor) *model.AuditLogEntry {
	return &model.AuditLogEntry{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		EntitySeq:  entitySeq,
		ActorID:    actor.ID,
		ActorName:  actor.FullName,
		ActorRole:  actor.Role,
		CreatedAt:  time.Now().UTC(),
	}
}

var systemActor = model.Actor{ID: "system", FullName: "system", Role: "system"}
