package model

import "time"

// InvoiceStatus описывает состояние счёта.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// InstallmentStatus описывает состояние взноса.
type InstallmentStatus string

const (
	InstallmentStatusUpcoming  InstallmentStatus = "upcoming"
	InstallmentStatusDue       InstallmentStatus = "due"
	InstallmentStatusGrace     InstallmentStatus = "grace"
	InstallmentStatusOverdue   InstallmentStatus = "overdue"
	InstallmentStatusPartial   InstallmentStatus = "partial"
	InstallmentStatusPaid      InstallmentStatus = "paid"
	InstallmentStatusCancelled InstallmentStatus = "cancelled"
)

// ScheduleType описывает тип плана отсрочки.
type ScheduleType string

const (
	ScheduleMonthly ScheduleType = "monthly"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleRegular ScheduleType = "regular"
	ScheduleCustom  ScheduleType = "custom"
)

// OrderPaymentStatus — заявленный в заказе способ оплаты.
type OrderPaymentStatus string

const (
	OrderPaidFull    OrderPaymentStatus = "full"
	OrderPaidPartial OrderPaymentStatus = "partial"
	OrderPaidUnpaid  OrderPaymentStatus = "unpaid"
)

// InvoiceStatusFor вычисляет статус счёта по остатку. Статус счёта — чистая
// функция остатка: remaining == 0 → paid, remaining == total → pending, иначе partial.
func InvoiceStatusFor(remaining, total Cents) InvoiceStatus {
	switch {
	case remaining == 0:
		return InvoiceStatusPaid
	case remaining == total:
		return InvoiceStatusPending
	default:
		return InvoiceStatusPartial
	}
}

// InstallmentStatusForBalance вычисляет статус взноса после применения платежа.
// Платёж — авторитетный источник статуса: полностью оплаченный взнос становится paid
// независимо от конкурентного временного пересчёта.
func InstallmentStatusForBalance(remaining Cents) InstallmentStatus {
	if remaining == 0 {
		return InstallmentStatusPaid
	}
	return InstallmentStatusPartial
}

// TimeStatusFor вычисляет временной статус взноса на момент now.
// Чистая функция от (now, due, graceDays, current): повторный вызов с теми же
// аргументами даёт тот же результат, чем обеспечивается идемпотентность пересчёта.
// Статусы paid и partial принадлежат платёжному контуру, cancelled — отмене счёта;
// временем они не меняются.
func TimeStatusFor(now, due time.Time, graceDays int, current InstallmentStatus) InstallmentStatus {
	if current == InstallmentStatusPaid || current == InstallmentStatusPartial ||
		current == InstallmentStatusCancelled {
		return current
	}

	nd := dateOnly(now)
	dd := dateOnly(due)
	deadline := dd.AddDate(0, 0, graceDays)

	switch {
	case nd.Before(dd):
		return InstallmentStatusUpcoming
	case nd.Equal(dd):
		return InstallmentStatusDue
	case !nd.After(deadline):
		return InstallmentStatusGrace
	default:
		return InstallmentStatusOverdue
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddMonths прибавляет n календарных месяцев, прижимая день к последнему дню
// целевого месяца (31 января + 1 месяц = 28/29 февраля).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	// Первое число безопасно сдвигать через AddDate: переполнения дня не бывает.
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, n, 0)
	last := daysInMonth(first.Year(), first.Month())
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
