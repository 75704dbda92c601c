package handler

import (
	"time"

	"github.com/hkhalifa/medledger-system/internal/model"
	"github.com/hkhalifa/medledger-system/internal/service"
)

type paymentSummaryResponse struct {
	PaymentID     string  `json:"payment_id"`
	Sequence      int64   `json:"sequence"`
	Amount        float64 `json:"amount"`
	Method        string  `json:"method"`
	CollectorName string  `json:"collector_name"`
	PaidAt        string  `json:"paid_at"`
}

type invoiceResponse struct {
	ID          string                   `json:"id"`
	Sequence    int64                    `json:"sequence"`
	OrderID     string                   `json:"order_id"`
	OrderSerial string                   `json:"order_serial"`
	ClinicID    string                   `json:"clinic_id"`
	ClinicName  string                   `json:"clinic_name,omitempty"`
	AreaName    string                   `json:"area_name,omitempty"`
	ProductLine string                   `json:"product_line,omitempty"`
	Subtotal    float64                  `json:"subtotal"`
	Discount    float64                  `json:"discount"`
	TotalAmount float64                  `json:"total_amount"`
	PaidAmount  float64                  `json:"paid_amount"`
	Remaining   float64                  `json:"remaining_amount"`
	Status      string                   `json:"status"`
	Payments    []paymentSummaryResponse `json:"payments"`
	CreatedAt   string                   `json:"created_at"`
}

func invoiceToResponse(inv *model.Invoice) invoiceResponse {
	payments := make([]paymentSummaryResponse, 0, len(inv.Payments))
	for _, p := range inv.Payments {
		payments = append(payments, paymentSummaryResponse{
			PaymentID:     p.PaymentID,
			Sequence:      p.Sequence,
			Amount:        p.Amount.Float(),
			Method:        p.Method,
			CollectorName: p.CollectorName,
			PaidAt:        p.PaidAt.Format(time.RFC3339),
		})
	}

	return invoiceResponse{
		ID:          inv.ID,
		Sequence:    inv.Sequence,
		OrderID:     inv.OrderID,
		OrderSerial: inv.OrderSerial,
		ClinicID:    inv.ClinicID,
		ClinicName:  inv.ClinicName,
		AreaName:    inv.AreaName,
		ProductLine: inv.ProductLine,
		Subtotal:    inv.Subtotal.Float(),
		Discount:    inv.Discount.Float(),
		TotalAmount: inv.TotalAmount.Float(),
		PaidAmount:  inv.PaidAmount.Float(),
		Remaining:   inv.RemainingAmount.Float(),
		Status:      string(inv.Status),
		Payments:    payments,
		CreatedAt:   inv.CreatedAt.Format(time.RFC3339),
	}
}

type installmentResponse struct {
	ID              string  `json:"id"`
	InvoiceID       string  `json:"invoice_id"`
	Seq             int     `json:"seq"`
	Amount          float64 `json:"amount"`
	PaidAmount      float64 `json:"paid_amount"`
	Remaining       float64 `json:"remaining_amount"`
	DueDate         string  `json:"due_date"`
	Status          string  `json:"status"`
	RescheduledFrom string  `json:"rescheduled_from,omitempty"`
	Reason          string  `json:"reschedule_reason,omitempty"`
	PaidAt          string  `json:"paid_at,omitempty"`
}

func installmentToResponse(it *model.Installment) installmentResponse {
	resp := installmentResponse{
		ID:         it.ID,
		InvoiceID:  it.InvoiceID,
		Seq:        it.Seq,
		Amount:     it.Amount.Float(),
		PaidAmount: it.PaidAmount.Float(),
		Remaining:  it.RemainingAmount.Float(),
		DueDate:    it.DueDate.Format(time.RFC3339),
		Status:     string(it.Status),
		Reason:     it.RescheduleReason,
	}
	if it.RescheduledFrom != nil {
		resp.RescheduledFrom = it.RescheduledFrom.Format(time.RFC3339)
	}
	if it.PaidAt != nil {
		resp.PaidAt = it.PaidAt.Format(time.RFC3339)
	}
	return resp
}

type installmentPaymentResponse struct {
	Installment installmentResponse `json:"installment"`
	Invoice     invoiceResponse     `json:"invoice"`
}

type paymentResponse struct {
	ID            string  `json:"id"`
	Sequence      int64   `json:"sequence"`
	InvoiceID     string  `json:"invoice_id"`
	InstallmentID string  `json:"installment_id,omitempty"`
	Amount        float64 `json:"amount"`
	Method        string  `json:"method"`
	CollectorName string  `json:"collector_name"`
	ReceiptRef    string  `json:"receipt_ref,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func paymentToResponse(p *model.Payment) paymentResponse {
	resp := paymentResponse{
		ID:            p.ID,
		Sequence:      p.Sequence,
		InvoiceID:     p.InvoiceID,
		Amount:        p.Amount.Float(),
		Method:        p.Method,
		CollectorName: p.CollectorName,
		ReceiptRef:    p.ReceiptRef,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.InstallmentID != nil {
		resp.InstallmentID = *p.InstallmentID
	}
	return resp
}

type auditResponse struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	EntitySeq  int64    `json:"entity_seq,omitempty"`
	ActorID    string   `json:"actor_id"`
	ActorName  string   `json:"actor_name,omitempty"`
	ActorRole  string   `json:"actor_role,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	Amount     *float64 `json:"amount,omitempty"`
	Before     string   `json:"before_value,omitempty"`
	After      string   `json:"after_value,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

func auditToResponse(e *model.AuditLogEntry) auditResponse {
	resp := auditResponse{
		ID:         e.ID,
		Kind:       string(e.Kind),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		EntitySeq:  e.EntitySeq,
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
		ActorRole:  e.ActorRole,
		Detail:     e.Detail,
		Before:     e.BeforeValue,
		After:      e.AfterValue,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
	if e.Amount != nil {
		v := e.Amount.Float()
		resp.Amount = &v
	}
	return resp
}

type creditScoreResponse struct {
	ClinicID     string `json:"clinic_id"`
	Score        int    `json:"score"`
	Rating       string `json:"rating"`
	OnTimeCount  int    `json:"on_time_count"`
	LateCount    int    `json:"late_count"`
	OverdueCount int    `json:"overdue_count"`
	ComputedAt   string `json:"computed_at"`
}

type scheduleResponse struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	TotalAmount  float64 `json:"total_amount"`
	Count        int     `json:"count"`
	GraceDays    int     `json:"grace_days"`
	FirstDueDate string  `json:"first_due_date"`
}

type buildResponse struct {
	Invoice        invoiceResponse       `json:"invoice"`
	UpfrontPayment *paymentResponse      `json:"upfront_payment,omitempty"`
	Schedule       *scheduleResponse     `json:"schedule,omitempty"`
	Installments   []installmentResponse `json:"installments,omitempty"`
	StepErrors     map[string]string     `json:"step_errors,omitempty"`
}

// buildResultResponse сообщает вызывающей стороне, какие шаги сборки счёта
// удались, чтобы повторить можно было только неудавшийся шаг.
func buildResultResponse(res *service.LedgerBuildResult) buildResponse {
	resp := buildResponse{Invoice: invoiceToResponse(res.Invoice)}

	if res.UpfrontPayment != nil {
		p := paymentToResponse(res.UpfrontPayment)
		resp.UpfrontPayment = &p
	}
	if res.Schedule != nil {
		resp.Schedule = &scheduleResponse{
			ID:           res.Schedule.ID,
			Type:         string(res.Schedule.Type),
			TotalAmount:  res.Schedule.TotalAmount.Float(),
			Count:        res.Schedule.Count,
			GraceDays:    res.Schedule.GraceDays,
			FirstDueDate: res.Schedule.FirstDueDate.Format(time.RFC3339),
		}
	}
	for i := range res.Installments {
		resp.Installments = append(resp.Installments, installmentToResponse(&res.Installments[i]))
	}
	if len(res.StepErrors) > 0 {
		resp.StepErrors = make(map[string]string, len(res.StepErrors))
		for step, err := range res.StepErrors {
			resp.StepErrors[string(step)] = err.Error()
		}
	}
	return resp
}

type summaryResponse struct {
	InvoiceCounts    map[string]int `json:"invoice_counts"`
	TotalBilled      float64        `json:"total_billed"`
	TotalCollected   float64        `json:"total_collected"`
	TotalOutstanding float64        `json:"total_outstanding"`
	OverdueCount     int            `json:"overdue_count"`
	OverdueAmount    float64        `json:"overdue_amount"`
}

func summaryToResponse(sum *model.LedgerSummary) summaryResponse {
	counts := make(map[string]int, len(sum.InvoiceCounts))
	for status, n := range sum.InvoiceCounts {
		counts[string(status)] = n
	}
	return summaryResponse{
		InvoiceCounts:    counts,
		TotalBilled:      sum.TotalBilled.Float(),
		TotalCollected:   sum.TotalCollected.Float(),
		TotalOutstanding: sum.TotalOutstanding.Float(),
		OverdueCount:     sum.OverdueCount,
		OverdueAmount:    sum.OverdueAmount.Float(),
	}
}
