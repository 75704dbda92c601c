package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hkhalifa/medledger-system/internal/model"
)

// CreateSchedule сохраняет план отсрочки вместе со всеми взносами в одной транзакции.
func (r *PostgresRepository) CreateSchedule(ctx context.Context, sch *model.InstallmentSchedule, items []model.Installment, audit *model.AuditLogEntry) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO installment_schedules
			 (id, invoice_id, schedule_type, total_amount, installments_count,
			  interval_days, grace_days, first_due_date, created_by_id, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			sch.ID, sch.InvoiceID, string(sch.Type), int64(sch.TotalAmount), sch.Count,
			sch.IntervalDays, sch.GraceDays, sch.FirstDueDate, sch.CreatedByID, sch.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}

		for i := range items {
			it := &items[i]
			paymentIDs, err := json.Marshal(it.PaymentIDs)
			if err != nil {
				return fmt.Errorf("marshal payment ids: %w", err)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO installments
				 (id, schedule_id, invoice_id, clinic_id, seq,
				  amount, paid_amount, remaining_amount, due_date, grace_days,
				  status, payment_ids, created_at, updated_at)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)`,
				it.ID, it.ScheduleID, it.InvoiceID, it.ClinicID, it.Seq,
				int64(it.Amount), int64(it.PaidAmount), int64(it.RemainingAmount),
				it.DueDate, it.GraceDays, string(it.Status), paymentIDs, it.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert installment %d: %w", it.Seq, err)
			}
		}

		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// HasSchedule сообщает, развёрнут ли для счёта план отсрочки.
func (r *PostgresRepository) HasSchedule(ctx context.Context, invoiceID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM installment_schedules WHERE invoice_id = $1)`,
		invoiceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schedule: %w", err)
	}
	return exists, nil
}

const installmentColumns = `id, schedule_id, invoice_id, clinic_id, seq,
	amount, paid_amount, remaining_amount, due_date, grace_days,
	status, payment_ids, rescheduled_from, reschedule_reason, rescheduled_by_id,
	paid_at, created_at, updated_at`

func scanInstallment(row pgx.Row) (*model.Installment, error) {
	var (
		it                      model.Installment
		amount, paid, remaining int64
		status                  string
		paymentIDs              []byte
	)
	err := row.Scan(
		&it.ID, &it.ScheduleID, &it.InvoiceID, &it.ClinicID, &it.Seq,
		&amount, &paid, &remaining, &it.DueDate, &it.GraceDays,
		&status, &paymentIDs, &it.RescheduledFrom, &it.RescheduleReason, &it.RescheduledByID,
		&it.PaidAt, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(paymentIDs, &it.PaymentIDs); err != nil {
		return nil, fmt.Errorf("unmarshal payment ids: %w", err)
	}

	it.Amount = model.Cents(amount)
	it.PaidAmount = model.Cents(paid)
	it.RemainingAmount = model.Cents(remaining)
	it.Status = model.InstallmentStatus(status)
	return &it, nil
}

// GetInstallment возвращает взнос по идентификатору.
func (r *PostgresRepository) GetInstallment(ctx context.Context, id string) (*model.Installment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = $1`, id)
	it, err := scanInstallment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstallmentNotFound
		}
		return nil, fmt.Errorf("get installment: %w", err)
	}
	return it, nil
}

func (r *PostgresRepository) listInstallments(ctx context.Context, where string, args ...any) ([]model.Installment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+installmentColumns+` FROM installments `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("select installments: %w", err)
	}
	defer rows.Close()

	var res []model.Installment
	for rows.Next() {
		it, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		res = append(res, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListInstallmentsByInvoice возвращает взносы счёта в порядке графика.
func (r *PostgresRepository) ListInstallmentsByInvoice(ctx context.Context, invoiceID string) ([]model.Installment, error) {
	return r.listInstallments(ctx, `WHERE invoice_id = $1 ORDER BY seq`, invoiceID)
}

// ListInstallmentsByClinic возвращает всю историю взносов клиники для расчёта оценки.
func (r *PostgresRepository) ListInstallmentsByClinic(ctx context.Context, clinicID string) ([]model.Installment, error) {
	return r.listInstallments(ctx, `WHERE clinic_id = $1 ORDER BY due_date`, clinicID)
}

// ListDueWithin возвращает неоплаченные взносы со сроком в ближайшие days дней.
// Окно считается по календарным дням: взнос со сроком сегодня попадает в выборку
// независимо от времени суток вызова.
func (r *PostgresRepository) ListDueWithin(ctx context.Context, now time.Time, days int) ([]model.Installment, error) {
	start, end := dueWindow(now, days)
	return r.listInstallments(ctx,
		`WHERE remaining_amount > 0
		   AND status <> $3
		   AND due_date >= $1 AND due_date < $2
		 ORDER BY due_date`,
		start, end, string(model.InstallmentStatusCancelled),
	)
}

func dueWindow(now time.Time, days int) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, days)
}

// ListForStatusRefresh возвращает взносы, чей статус может измениться от времени.
// Статусы partial и paid принадлежат платёжному контуру, overdue дальше не переходит.
func (r *PostgresRepository) ListForStatusRefresh(ctx context.Context) ([]model.Installment, error) {
	return r.listInstallments(ctx,
		`WHERE status IN ($1, $2, $3) ORDER BY due_date`,
		string(model.InstallmentStatusUpcoming),
		string(model.InstallmentStatusDue),
		string(model.InstallmentStatusGrace),
	)
}

// AdvanceInstallmentStatus переводит взнос из from в to и сообщает, применился ли переход.
// Условие по текущему статусу гарантирует, что конкурентный платёж, успевший закрыть
// взнос, не будет перетёрт временным переходом.
func (r *PostgresRepository) AdvanceInstallmentStatus(ctx context.Context, id string, from, to model.InstallmentStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE installments SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("advance installment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RescheduleInstallment переносит срок взноса. Оплаченный взнос переносить нельзя;
// прежний срок сохраняется в rescheduled_from, статус сбрасывается в upcoming.
func (r *PostgresRepository) RescheduleInstallment(ctx context.Context, id string, newDue time.Time, reason, actorID string, audit *model.AuditLogEntry) (*model.Installment, error) {
	var result *model.Installment
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = $1 FOR UPDATE`, id)
		it, err := scanInstallment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInstallmentNotFound
			}
			return fmt.Errorf("lock installment: %w", err)
		}

		if it.Status == model.InstallmentStatusPaid {
			return ErrInstallmentPaid
		}
		if it.Status == model.InstallmentStatusCancelled {
			return fmt.Errorf("%w: %s", ErrInstallmentCancelled, it.ID)
		}

		prevDue := it.DueDate
		_, err = tx.Exec(ctx,
			`UPDATE installments
			 SET due_date = $2, status = $3, rescheduled_from = $4,
			     reschedule_reason = $5, rescheduled_by_id = $6, updated_at = now()
			 WHERE id = $1`,
			id, newDue, string(model.InstallmentStatusUpcoming), prevDue, reason, actorID,
		)
		if err != nil {
			return fmt.Errorf("update installment: %w", err)
		}

		audit.BeforeValue = prevDue.Format(time.RFC3339)
		audit.AfterValue = newDue.Format(time.RFC3339)
		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		it.RescheduledFrom = &prevDue
		it.DueDate = newDue
		it.Status = model.InstallmentStatusUpcoming
		it.RescheduleReason = reason
		it.RescheduledByID = actorID
		result = it
		return nil
	})
	return result, err
}

func insertPayment(ctx context.Context, tx pgx.Tx, p *model.Payment) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO payments
		 (id, seq, invoice_id, installment_id, amount, method,
		  collector_id, collector_name, receipt_ref, idempotency_key, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.Sequence, p.InvoiceID, p.InstallmentID, int64(p.Amount), p.Method,
		p.CollectorID, p.CollectorName, p.ReceiptRef, p.IdempotencyKey, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicatePayment, p.IdempotencyKey)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func applyToInvoice(ctx context.Context, tx pgx.Tx, invoiceID string, p *model.Payment, checkRemaining bool) (*model.Invoice, error) {
	row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("lock invoice: %w", err)
	}

	// Отменённый счёт не принимает платежи: пересчёт статуса по остатку
	// иначе вернул бы его в partial или paid.
	if inv.Status == model.InvoiceStatusCancelled {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceCancelled, inv.ID)
	}

	if checkRemaining && p.Amount > inv.RemainingAmount {
		return nil, fmt.Errorf("%w: amount %d, remaining %d", ErrOverpayment, p.Amount, inv.RemainingAmount)
	}

	inv.PaidAmount += p.Amount
	inv.RemainingAmount -= p.Amount
	inv.Status = model.InvoiceStatusFor(inv.RemainingAmount, inv.TotalAmount)
	inv.Payments = append(inv.Payments, model.PaymentSummary{
		PaymentID:     p.ID,
		Sequence:      p.Sequence,
		Amount:        p.Amount,
		Method:        p.Method,
		CollectorName: p.CollectorName,
		PaidAt:        p.CreatedAt,
	})

	payments, err := json.Marshal(inv.Payments)
	if err != nil {
		return nil, fmt.Errorf("marshal payments: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE invoices
		 SET paid_amount = $2, remaining_amount = $3, status = $4, payments = $5, updated_at = now()
		 WHERE id = $1`,
		inv.ID, int64(inv.PaidAmount), int64(inv.RemainingAmount), string(inv.Status), payments,
	)
	if err != nil {
		return nil, fmt.Errorf("update invoice balances: %w", err)
	}
	return inv, nil
}

// ApplyInvoicePayment записывает платёж по счёту и обновляет его балансы в одной
// транзакции. Переплата отклоняется до каких-либо изменений.
func (r *PostgresRepository) ApplyInvoicePayment(ctx context.Context, p *model.Payment, audit *model.AuditLogEntry) (*model.Invoice, error) {
	var result *model.Invoice
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		inv, err := applyToInvoice(ctx, tx, p.InvoiceID, p, true)
		if err != nil {
			return err
		}

		if err := insertPayment(ctx, tx, p); err != nil {
			return err
		}

		audit.BeforeValue = balanceSnapshot(inv.PaidAmount-p.Amount, inv.RemainingAmount+p.Amount)
		audit.AfterValue = balanceSnapshot(inv.PaidAmount, inv.RemainingAmount)
		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		result = inv
		return nil
	})
	return result, err
}

// ApplyInstallmentPayment записывает платёж по взносу и в той же транзакции
// протягивает сумму в балансы родительского счёта: платёж по взносу всегда
// является и платежом по счёту.
func (r *PostgresRepository) ApplyInstallmentPayment(ctx context.Context, p *model.Payment, audit *model.AuditLogEntry) (*model.Installment, *model.Invoice, error) {
	var (
		resultInst *model.Installment
		resultInv  *model.Invoice
	)
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = $1 FOR UPDATE`, *p.InstallmentID)
		it, err := scanInstallment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInstallmentNotFound
			}
			return fmt.Errorf("lock installment: %w", err)
		}

		if p.Amount > it.RemainingAmount {
			return fmt.Errorf("%w: amount %d, remaining %d", ErrOverpayment, p.Amount, it.RemainingAmount)
		}

		prevPaid, prevRemaining := it.PaidAmount, it.RemainingAmount
		it.PaidAmount += p.Amount
		it.RemainingAmount -= p.Amount
		it.Status = model.InstallmentStatusForBalance(it.RemainingAmount)
		it.PaymentIDs = append(it.PaymentIDs, p.ID)
		if it.RemainingAmount == 0 {
			now := p.CreatedAt
			it.PaidAt = &now
		}

		paymentIDs, err := json.Marshal(it.PaymentIDs)
		if err != nil {
			return fmt.Errorf("marshal payment ids: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE installments
			 SET paid_amount = $2, remaining_amount = $3, status = $4,
			     payment_ids = $5, paid_at = $6, updated_at = now()
			 WHERE id = $1`,
			it.ID, int64(it.PaidAmount), int64(it.RemainingAmount), string(it.Status),
			paymentIDs, it.PaidAt,
		)
		if err != nil {
			return fmt.Errorf("update installment balances: %w", err)
		}

		inv, err := applyToInvoice(ctx, tx, it.InvoiceID, p, false)
		if err != nil {
			return err
		}

		if err := insertPayment(ctx, tx, p); err != nil {
			return err
		}

		audit.BeforeValue = balanceSnapshot(prevPaid, prevRemaining)
		audit.AfterValue = balanceSnapshot(it.PaidAmount, it.RemainingAmount)
		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		resultInst, resultInv = it, inv
		return nil
	})
	return resultInst, resultInv, err
}

// RecordUpfrontPayment сохраняет платёж, которым фабрика счетов подкрепляет уже
// учтённую в балансах предоплату. Балансы счёта здесь не меняются, платёж лишь
// добавляется в список платежей счёта.
func (r *PostgresRepository) RecordUpfrontPayment(ctx context.Context, p *model.Payment, audit *model.AuditLogEntry) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, p.InvoiceID)
		inv, err := scanInvoice(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvoiceNotFound
			}
			return fmt.Errorf("lock invoice: %w", err)
		}

		if inv.Status == model.InvoiceStatusCancelled {
			return fmt.Errorf("%w: %s", ErrInvoiceCancelled, inv.ID)
		}

		inv.Payments = append(inv.Payments, model.PaymentSummary{
			PaymentID:     p.ID,
			Sequence:      p.Sequence,
			Amount:        p.Amount,
			Method:        p.Method,
			CollectorName: p.CollectorName,
			PaidAt:        p.CreatedAt,
		})
		payments, err := json.Marshal(inv.Payments)
		if err != nil {
			return fmt.Errorf("marshal payments: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE invoices SET payments = $2, updated_at = now() WHERE id = $1`,
			inv.ID, payments,
		)
		if err != nil {
			return fmt.Errorf("update invoice payments: %w", err)
		}

		if err := insertPayment(ctx, tx, p); err != nil {
			return err
		}

		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// ListPaymentsByInvoice возвращает платежи по счёту, новые первыми.
func (r *PostgresRepository) ListPaymentsByInvoice(ctx context.Context, invoiceID string) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, seq, invoice_id, installment_id, amount, method,
		        collector_id, collector_name, receipt_ref, idempotency_key, created_at
		 FROM payments WHERE invoice_id = $1 ORDER BY seq DESC`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var (
			p      model.Payment
			amount int64
		)
		err := rows.Scan(&p.ID, &p.Sequence, &p.InvoiceID, &p.InstallmentID, &amount, &p.Method,
			&p.CollectorID, &p.CollectorName, &p.ReceiptRef, &p.IdempotencyKey, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Amount = model.Cents(amount)
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func balanceSnapshot(paid, remaining model.Cents) string {
	return fmt.Sprintf(`{"paid":%d,"remaining":%d}`, int64(paid), int64(remaining))
}
