// Package model содержит доменные сущности биллингового ядра.
package model

import "time"

// Actor описывает сотрудника, выполняющего операцию (представитель, менеджер, бухгалтер).
type Actor struct {
	ID       string
	FullName string
	Role     string
}

// OrderLine описывает одну позицию заказа, копируемую в счёт без изменений.
type OrderLine struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Cents  `json:"unit_price"`
	Total       Cents  `json:"total"`
}

// CustomInstallment задаёт сумму и дату одного взноса при графике типа custom.
type CustomInstallment struct {
	Amount  Cents
	DueDate time.Time
}

// OrderSnapshot — снимок утверждённого заказа, получаемый от внешней системы заказов.
// Ядро не владеет заказами и не проверяет их статус: утверждённость гарантирует вызывающая сторона.
type OrderSnapshot struct {
	ID           string
	SerialNumber string
	ClinicID     string

	Lines       []OrderLine
	Subtotal    Cents
	Discount    Cents
	TotalAmount Cents

	PaymentStatus OrderPaymentStatus
	PaymentMethod string
	AmountPaid    Cents

	// Параметры плана отсрочки. План считается заданным, если FirstDueDate не nil
	// и InstallmentsCount > 0 (либо для custom заполнен CustomInstallments).
	ScheduleType       ScheduleType
	InstallmentsCount  int
	IntervalDays       int
	GracePeriodDays    int
	FirstDueDate       *time.Time
	CustomInstallments []CustomInstallment
}

// DisplayMeta содержит отображаемые имена, разрешённые внешним сервисом справочников.
type DisplayMeta struct {
	ClinicName   string
	CreatorName  string
	ApproverName string
	AreaName     string
	ProductLine  string
}

// PaymentSummary — краткая запись о платеже, встраиваемая в счёт для отчётности.
type PaymentSummary struct {
	PaymentID     string    `json:"payment_id"`
	Sequence      int64     `json:"sequence"`
	Amount        Cents     `json:"amount"`
	Method        string    `json:"method"`
	CollectorName string    `json:"collector_name"`
	PaidAt        time.Time `json:"paid_at"`
}

// Invoice — финансовое обязательство клиники по одному утверждённому заказу.
// Инвариант: PaidAmount + RemainingAmount == TotalAmount после каждой операции.
type Invoice struct {
	ID       string
	Sequence int64

	OrderID     string
	OrderSerial string

	ClinicID       string
	ClinicName     string
	CreatedByID    string
	CreatedByName  string
	ApprovedByID   string
	ApprovedByName string
	AreaName       string
	ProductLine    string

	Lines           []OrderLine
	Subtotal        Cents
	Discount        Cents
	TotalAmount     Cents
	PaidAmount      Cents
	RemainingAmount Cents

	Status   InvoiceStatus
	Payments []PaymentSummary

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InstallmentSchedule описывает план отсрочки платежа по счёту.
// Создаётся один раз и далее не изменяется: перенос срока затрагивает взносы, а не план.
type InstallmentSchedule struct {
	ID        string
	InvoiceID string

	Type         ScheduleType
	TotalAmount  Cents
	Count        int
	IntervalDays int
	GraceDays    int
	FirstDueDate time.Time

	CreatedByID string
	CreatedAt   time.Time
}

// Installment — один взнос в плане отсрочки.
// Инвариант: PaidAmount + RemainingAmount == Amount.
type Installment struct {
	ID         string
	ScheduleID string
	InvoiceID  string
	ClinicID   string
	Seq        int

	Amount          Cents
	PaidAmount      Cents
	RemainingAmount Cents

	DueDate   time.Time
	GraceDays int
	Status    InstallmentStatus

	PaymentIDs []string

	RescheduledFrom  *time.Time
	RescheduleReason string
	RescheduledByID  string

	PaidAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment — факт сбора денег. Запись неизменяема: исправления оформляются новыми платежами.
type Payment struct {
	ID       string
	Sequence int64

	InvoiceID     string
	InstallmentID *string

	Amount        Cents
	Method        string
	CollectorID   string
	CollectorName string
	ReceiptRef    string

	// Ключ идемпотентности, задаваемый клиентом: повтор с тем же ключом отклоняется.
	IdempotencyKey string

	CreatedAt time.Time
}

// AuditKind описывает тип записи журнала аудита.
type AuditKind string

const (
	AuditInvoiceCreated         AuditKind = "invoice_created"
	AuditInvoiceCancelled       AuditKind = "invoice_cancelled"
	AuditPaymentRecorded        AuditKind = "payment_recorded"
	AuditScheduleCreated        AuditKind = "schedule_created"
	AuditInstallmentRescheduled AuditKind = "installment_rescheduled"
	AuditStatusRefreshed        AuditKind = "status_refreshed"
	AuditStepFailed             AuditKind = "step_failed"
)

// AuditLogEntry — запись журнала аудита. Журнал только дописывается и никогда не правится.
type AuditLogEntry struct {
	ID   string
	Kind AuditKind

	EntityType string
	EntityID   string
	EntitySeq  int64

	ActorID   string
	ActorName string
	ActorRole string

	Detail      string
	Amount      *Cents
	BeforeValue string
	AfterValue  string

	CreatedAt time.Time
}

// CreditRating — буквенная категория надёжности клиники.
type CreditRating string

const (
	RatingA CreditRating = "A"
	RatingB CreditRating = "B"
	RatingC CreditRating = "C"
	RatingD CreditRating = "D"
	RatingF CreditRating = "F"
)

// ClinicCreditScore — кэшируемая оценка платёжной дисциплины клиники.
// Полностью пересчитывается из истории взносов и не является источником истины.
type ClinicCreditScore struct {
	ClinicID     string
	Score        int
	Rating       CreditRating
	OnTimeCount  int
	LateCount    int
	OverdueCount int
	ComputedAt   time.Time
}

// RatingForScore возвращает категорию для числовой оценки.
func RatingForScore(score int) CreditRating {
	switch {
	case score >= 90:
		return RatingA
	case score >= 75:
		return RatingB
	case score >= 60:
		return RatingC
	case score >= 40:
		return RatingD
	default:
		return RatingF
	}
}

// LedgerSummary — агрегаты по счетам и взносам для дашбордов.
type LedgerSummary struct {
	InvoiceCounts    map[InvoiceStatus]int `json:"invoice_counts"`
	TotalBilled      Cents                 `json:"total_billed"`
	TotalCollected   Cents                 `json:"total_collected"`
	TotalOutstanding Cents                 `json:"total_outstanding"`
	OverdueCount     int                   `json:"overdue_count"`
	OverdueAmount    Cents                 `json:"overdue_amount"`
}
