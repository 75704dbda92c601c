// Package handler содержит HTTP-обработчики API биллингового ядра.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hkhalifa/medledger-system/internal/middleware"
	"github.com/hkhalifa/medledger-system/internal/model"
	"github.com/hkhalifa/medledger-system/internal/repository"
	"github.com/hkhalifa/medledger-system/internal/service"
	"github.com/hkhalifa/medledger-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateInvoiceFromOrder(ctx context.Context, order model.OrderSnapshot, actor model.Actor, meta model.DisplayMeta) (*service.LedgerBuildResult, error)
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, clinicID string, status model.InvoiceStatus) ([]model.Invoice, error)
	CancelInvoice(ctx context.Context, id string, actor model.Actor) (*model.Invoice, error)
	ListInstallmentsByInvoice(ctx context.Context, invoiceID string) ([]model.Installment, error)
	ListPaymentsByInvoice(ctx context.Context, invoiceID string) ([]model.Payment, error)
	RecordInvoicePayment(ctx context.Context, invoiceID string, req service.PaymentRequest, actor model.Actor) (*model.Invoice, error)
	RecordInstallmentPayment(ctx context.Context, installmentID string, req service.PaymentRequest, actor model.Actor) (*model.Installment, *model.Invoice, error)
	RescheduleInstallment(ctx context.Context, id string, newDue time.Time, reason string, actor model.Actor) (*model.Installment, error)
	RefreshStatuses(ctx context.Context, now time.Time) (int, error)
	DueSoon(ctx context.Context, now time.Time, days int) ([]model.Installment, error)
	ScoreClinic(ctx context.Context, clinicID string, now time.Time) (*model.ClinicCreditScore, error)
	ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]model.AuditLogEntry, error)
	Summary(ctx context.Context) (*model.LedgerSummary, error)
}

// Handler реализует HTTP-обработчики API биллингового ядра.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validator.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validate:       validator.New(),
	}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// writeError транслирует ошибки ядра в HTTP-статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrInvoiceNotFound) || errors.Is(err, repository.ErrInstallmentNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrOverpayment):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrDuplicatePayment) ||
		errors.Is(err, repository.ErrInvoiceExists) ||
		errors.Is(err, repository.ErrInstallmentPaid) ||
		errors.Is(err, repository.ErrInvoiceHasPayments) ||
		errors.Is(err, repository.ErrInvoiceCancelled) ||
		errors.Is(err, repository.ErrInstallmentCancelled):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrAmountNotPositive) ||
		errors.Is(err, service.ErrIdempotencyKeyRequired) ||
		errors.Is(err, service.ErrUnknownPaymentStatus) ||
		errors.Is(err, service.ErrBadSchedulePlan) ||
		errors.Is(err, service.ErrCustomSumMismatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type orderLineRequest struct {
	ProductID   string  `json:"product_id" validate:"required"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	Total       float64 `json:"total" validate:"gte=0"`
}

type customInstallmentRequest struct {
	Amount  float64   `json:"amount" validate:"gt=0"`
	DueDate time.Time `json:"due_date" validate:"required"`
}

type approvedOrderRequest struct {
	OrderID      string  `json:"order_id" validate:"required"`
	SerialNumber string  `json:"serial_number" validate:"required"`
	ClinicID     string  `json:"clinic_id" validate:"required"`
	Subtotal     float64 `json:"subtotal" validate:"gte=0"`
	Discount     float64 `json:"discount" validate:"gte=0"`
	TotalAmount  float64 `json:"total_amount" validate:"gt=0"`

	Products []orderLineRequest `json:"products" validate:"dive"`

	PaymentStatus string  `json:"payment_status" validate:"required,oneof=full partial unpaid"`
	PaymentMethod string  `json:"payment_method"`
	AmountPaid    float64 `json:"amount_paid" validate:"gte=0"`

	ScheduleType       string                     `json:"schedule_type" validate:"omitempty,oneof=monthly weekly regular custom"`
	InstallmentsCount  int                        `json:"installments_count" validate:"gte=0"`
	IntervalDays       int                        `json:"interval_days" validate:"gte=0"`
	GracePeriodDays    int                        `json:"grace_period_days" validate:"gte=0"`
	FirstDueDate       *time.Time                 `json:"first_due_date"`
	CustomInstallments []customInstallmentRequest `json:"custom_installments" validate:"dive"`

	ClinicName   string `json:"clinic_name"`
	CreatorName  string `json:"creator_name"`
	ApproverName string `json:"approver_name"`
	AreaName     string `json:"area_name"`
	ProductLine  string `json:"product_line"`
}

// CreateInvoice принимает событие «заказ утверждён» и строит по нему счёт.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req approvedOrderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if !validation.IsValidSerialNumber(req.SerialNumber) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	lines := make([]model.OrderLine, 0, len(req.Products))
	for _, p := range req.Products {
		lines = append(lines, model.OrderLine{
			ProductID:   p.ProductID,
			ProductName: p.ProductName,
			Quantity:    p.Quantity,
			UnitPrice:   model.CentsFromFloat(p.UnitPrice),
			Total:       model.CentsFromFloat(p.Total),
		})
	}

	custom := make([]model.CustomInstallment, 0, len(req.CustomInstallments))
	for _, c := range req.CustomInstallments {
		custom = append(custom, model.CustomInstallment{
			Amount:  model.CentsFromFloat(c.Amount),
			DueDate: c.DueDate,
		})
	}

	order := model.OrderSnapshot{
		ID:                 req.OrderID,
		SerialNumber:       req.SerialNumber,
		ClinicID:           req.ClinicID,
		Lines:              lines,
		Subtotal:           model.CentsFromFloat(req.Subtotal),
		Discount:           model.CentsFromFloat(req.Discount),
		TotalAmount:        model.CentsFromFloat(req.TotalAmount),
		PaymentStatus:      model.OrderPaymentStatus(req.PaymentStatus),
		PaymentMethod:      req.PaymentMethod,
		AmountPaid:         model.CentsFromFloat(req.AmountPaid),
		ScheduleType:       model.ScheduleType(req.ScheduleType),
		InstallmentsCount:  req.InstallmentsCount,
		IntervalDays:       req.IntervalDays,
		GracePeriodDays:    req.GracePeriodDays,
		FirstDueDate:       req.FirstDueDate,
		CustomInstallments: custom,
	}

	meta := model.DisplayMeta{
		ClinicName:   req.ClinicName,
		CreatorName:  req.CreatorName,
		ApproverName: req.ApproverName,
		AreaName:     req.AreaName,
		ProductLine:  req.ProductLine,
	}

	res, err := h.service.CreateInvoiceFromOrder(r.Context(), order, actor, meta)
	if err != nil {
		h.writeError(w, err, "create invoice error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(buildResultResponse(res))
}

type paymentRequest struct {
	Amount         float64 `json:"amount" validate:"gt=0"`
	Method         string  `json:"method" validate:"required"`
	ReceiptRef     string  `json:"receipt_ref"`
	IdempotencyKey string  `json:"idempotency_key" validate:"required"`
}

// RecordInvoicePayment записывает платёж напрямую по счёту.
func (h *Handler) RecordInvoicePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if !validation.IsValidIdempotencyKey(req.IdempotencyKey) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	inv, err := h.service.RecordInvoicePayment(r.Context(), chi.URLParam(r, "id"), service.PaymentRequest{
		Amount:         model.CentsFromFloat(req.Amount),
		Method:         req.Method,
		ReceiptRef:     req.ReceiptRef,
		IdempotencyKey: req.IdempotencyKey,
	}, actor)
	if err != nil {
		h.writeError(w, err, "record invoice payment error")
		return
	}

	h.writeJSON(w, invoiceToResponse(inv))
}

// RecordInstallmentPayment записывает платёж по взносу.
func (h *Handler) RecordInstallmentPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if !validation.IsValidIdempotencyKey(req.IdempotencyKey) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	inst, inv, err := h.service.RecordInstallmentPayment(r.Context(), chi.URLParam(r, "id"), service.PaymentRequest{
		Amount:         model.CentsFromFloat(req.Amount),
		Method:         req.Method,
		ReceiptRef:     req.ReceiptRef,
		IdempotencyKey: req.IdempotencyKey,
	}, actor)
	if err != nil {
		h.writeError(w, err, "record installment payment error")
		return
	}

	h.writeJSON(w, installmentPaymentResponse{
		Installment: installmentToResponse(inst),
		Invoice:     invoiceToResponse(inv),
	})
}

type rescheduleRequest struct {
	NewDueDate time.Time `json:"new_due_date" validate:"required"`
	Reason     string    `json:"reason" validate:"required"`
}

// RescheduleInstallment переносит срок взноса.
func (h *Handler) RescheduleInstallment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req rescheduleRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	inst, err := h.service.RescheduleInstallment(r.Context(), chi.URLParam(r, "id"), req.NewDueDate, req.Reason, actor)
	if err != nil {
		h.writeError(w, err, "reschedule installment error")
		return
	}

	h.writeJSON(w, installmentToResponse(inst))
}

// CancelInvoice отменяет счёт без принятых платежей.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	inv, err := h.service.CancelInvoice(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeError(w, err, "cancel invoice error")
		return
	}

	h.writeJSON(w, invoiceToResponse(inv))
}

// RefreshStatuses запускает пересчёт временных статусов взносов.
// Вызывается внешним планировщиком; безопасен при любой частоте вызова.
func (h *Handler) RefreshStatuses(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	changed, err := h.service.RefreshStatuses(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeError(w, err, "refresh statuses error")
		return
	}

	h.writeJSON(w, map[string]int{"transitions_applied": changed})
}

// GetInvoice возвращает счёт по идентификатору.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "get invoice error")
		return
	}

	h.writeJSON(w, invoiceToResponse(inv))
}

// ListInvoices возвращает счета по фильтру клиники и статуса.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	invoices, err := h.service.ListInvoices(r.Context(),
		r.URL.Query().Get("clinic_id"),
		model.InvoiceStatus(r.URL.Query().Get("status")),
	)
	if err != nil {
		h.writeError(w, err, "list invoices error")
		return
	}

	if len(invoices) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]invoiceResponse, 0, len(invoices))
	for i := range invoices {
		resp = append(resp, invoiceToResponse(&invoices[i]))
	}
	h.writeJSON(w, resp)
}

// ListInstallments возвращает взносы счёта.
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	items, err := h.service.ListInstallmentsByInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "list installments error")
		return
	}

	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]installmentResponse, 0, len(items))
	for i := range items {
		resp = append(resp, installmentToResponse(&items[i]))
	}
	h.writeJSON(w, resp)
}

// ListPayments возвращает платежи счёта.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	payments, err := h.service.ListPaymentsByInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "list payments error")
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, paymentToResponse(&payments[i]))
	}
	h.writeJSON(w, resp)
}

// DueSoon возвращает взносы со сроком в ближайшие дни для рассылки напоминаний.
func (h *Handler) DueSoon(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	days := 3
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		days = parsed
	}

	items, err := h.service.DueSoon(r.Context(), time.Now().UTC(), days)
	if err != nil {
		h.writeError(w, err, "due soon error")
		return
	}

	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]installmentResponse, 0, len(items))
	for i := range items {
		resp = append(resp, installmentToResponse(&items[i]))
	}
	h.writeJSON(w, resp)
}

// CreditScore пересчитывает и возвращает оценку платёжной дисциплины клиники.
func (h *Handler) CreditScore(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	score, err := h.service.ScoreClinic(r.Context(), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		h.writeError(w, err, "score clinic error")
		return
	}

	h.writeJSON(w, creditScoreResponse{
		ClinicID:     score.ClinicID,
		Score:        score.Score,
		Rating:       string(score.Rating),
		OnTimeCount:  score.OnTimeCount,
		LateCount:    score.LateCount,
		OverdueCount: score.OverdueCount,
		ComputedAt:   score.ComputedAt.Format(time.RFC3339),
	})
}

// ListAudit возвращает записи журнала аудита.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListAudit(r.Context(),
		r.URL.Query().Get("entity_type"),
		r.URL.Query().Get("entity_id"),
		limit,
	)
	if err != nil {
		h.writeError(w, err, "list audit error")
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]auditResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, auditToResponse(&entries[i]))
	}
	h.writeJSON(w, resp)
}

// Summary возвращает агрегаты для дашбордов.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	sum, err := h.service.Summary(r.Context())
	if err != nil {
		h.writeError(w, err, "summary error")
		return
	}

	h.writeJSON(w, summaryToResponse(sum))
}
