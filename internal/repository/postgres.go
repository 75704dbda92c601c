// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/hkhalifa/medledger-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInvoiceExists возвращается при попытке создать второй счёт по тому же заказу.
var (
	ErrInvoiceExists = errors.New("invoice already exists for order")
	// ErrInvoiceNotFound возвращается, если счёт не найден.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrInstallmentNotFound возвращается, если взнос не найден.
	ErrInstallmentNotFound = errors.New("installment not found")
	// ErrOverpayment возвращается при попытке записать платёж, превышающий остаток.
	ErrOverpayment = errors.New("payment exceeds remaining amount")
	// ErrDuplicatePayment возвращается при повторе ключа идемпотентности.
	ErrDuplicatePayment = errors.New("payment with this idempotency key already recorded")
	// ErrInstallmentPaid возвращается при попытке перенести срок оплаченного взноса.
	ErrInstallmentPaid = errors.New("installment already paid")
	// ErrInvoiceHasPayments возвращается при попытке отменить счёт с принятыми платежами.
	ErrInvoiceHasPayments = errors.New("invoice has recorded payments")
	// ErrInvoiceCancelled возвращается при попытке записать платёж по отменённому счёту.
	ErrInvoiceCancelled = errors.New("invoice is cancelled")
	// ErrInstallmentCancelled возвращается при операции над взносом отменённого счёта.
	ErrInstallmentCancelled = errors.New("installment belongs to a cancelled invoice")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраим только сериализационные конфликты и дедлоки: блокировки строк
		// счёта и взноса пересекаются с фоновым пересчётом статусов.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// NextSequence атомарно выдаёт следующий номер для указанного типа сущности.
// Первый вызов для ключа сажает счётчик на startFrom; вставка и инкремент —
// одно предложение, поэтому конкурентные первые вызовы не могут засеять счётчик дважды.
func (r *PostgresRepository) NextSequence(ctx context.Context, key string, startFrom int64) (int64, error) {
	var value int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO sequence_counters (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = sequence_counters.value + 1
		 RETURNING value`,
		key, startFrom,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next sequence %q: %w", key, err)
	}
	return value, nil
}

// CreateInvoice сохраняет новый счёт. По одному заказу допускается только один счёт.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	lines, err := json.Marshal(inv.Lines)
	if err != nil {
		return fmt.Errorf("marshal lines: %w", err)
	}
	payments, err := json.Marshal(inv.Payments)
	if err != nil {
		return fmt.Errorf("marshal payments: %w", err)
	}

	err = r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO invoices
			 (id, seq, order_id, order_serial, clinic_id, clinic_name,
			  created_by_id, created_by_name, approved_by_id, approved_by_name,
			  area_name, product_line, lines, subtotal, discount,
			  total_amount, paid_amount, remaining_amount, status, payments,
			  created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$21)`,
			inv.ID, inv.Sequence, inv.OrderID, inv.OrderSerial, inv.ClinicID, inv.ClinicName,
			inv.CreatedByID, inv.CreatedByName, inv.ApprovedByID, inv.ApprovedByName,
			inv.AreaName, inv.ProductLine, lines, int64(inv.Subtotal), int64(inv.Discount),
			int64(inv.TotalAmount), int64(inv.PaidAmount), int64(inv.RemainingAmount),
			string(inv.Status), payments, inv.CreatedAt,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrInvoiceExists, inv.OrderID)
		}
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

const invoiceColumns = `id, seq, order_id, order_serial, clinic_id, clinic_name,
	created_by_id, created_by_name, approved_by_id, approved_by_name,
	area_name, product_line, lines, subtotal, discount,
	total_amount, paid_amount, remaining_amount, status, payments,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	var (
		inv                       model.Invoice
		lines, payments           []byte
		subtotal, discount, total int64
		paid, remaining           int64
		status                    string
	)
	err := row.Scan(
		&inv.ID, &inv.Sequence, &inv.OrderID, &inv.OrderSerial, &inv.ClinicID, &inv.ClinicName,
		&inv.CreatedByID, &inv.CreatedByName, &inv.ApprovedByID, &inv.ApprovedByName,
		&inv.AreaName, &inv.ProductLine, &lines, &subtotal, &discount,
		&total, &paid, &remaining, &status, &payments,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lines, &inv.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal lines: %w", err)
	}
	if err := json.Unmarshal(payments, &inv.Payments); err != nil {
		return nil, fmt.Errorf("unmarshal payments: %w", err)
	}

	inv.Subtotal = model.Cents(subtotal)
	inv.Discount = model.Cents(discount)
	inv.TotalAmount = model.Cents(total)
	inv.PaidAmount = model.Cents(paid)
	inv.RemainingAmount = model.Cents(remaining)
	inv.Status = model.InvoiceStatus(status)
	return &inv, nil
}

// GetInvoice возвращает счёт по идентификатору.
func (r *PostgresRepository) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// GetInvoiceByOrder возвращает счёт, созданный по указанному заказу.
func (r *PostgresRepository) GetInvoiceByOrder(ctx context.Context, orderID string) (*model.Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice by order: %w", err)
	}
	return inv, nil
}

// ListInvoices возвращает счета, отфильтрованные по клинике и/или статусу.
func (r *PostgresRepository) ListInvoices(ctx context.Context, clinicID string, status model.InvoiceStatus) ([]model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []any{}
	if clinicID != "" {
		args = append(args, clinicID)
		query += fmt.Sprintf(` AND clinic_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY seq DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select invoices: %w", err)
	}
	defer rows.Close()

	var res []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		res = append(res, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CancelInvoice переводит счёт в статус cancelled. Счёт с принятыми платежами не отменяется;
// физическое удаление счетов не предусмотрено. Взносы отменённого счёта гасятся в той же
// транзакции, чтобы не попадать в пересчёт статусов, напоминания и агрегаты просрочки.
func (r *PostgresRepository) CancelInvoice(ctx context.Context, id string, audit *model.AuditLogEntry) (*model.Invoice, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("lock invoice: %w", err)
	}

	if inv.PaidAmount > 0 {
		return nil, ErrInvoiceHasPayments
	}

	_, err = tx.Exec(ctx,
		`UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(model.InvoiceStatusCancelled),
	)
	if err != nil {
		return nil, fmt.Errorf("cancel invoice: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE installments SET status = $2, updated_at = now()
		 WHERE invoice_id = $1 AND status <> $3`,
		id, string(model.InstallmentStatusCancelled), string(model.InstallmentStatusPaid),
	)
	if err != nil {
		return nil, fmt.Errorf("cancel installments: %w", err)
	}

	audit.BeforeValue = string(inv.Status)
	audit.AfterValue = string(model.InvoiceStatusCancelled)
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	inv.Status = model.InvoiceStatusCancelled
	return inv, nil
}

type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAudit(ctx context.Context, q executor, e *model.AuditLogEntry) error {
	var amount *int64
	if e.Amount != nil {
		v := int64(*e.Amount)
		amount = &v
	}
	_, err := q.Exec(ctx,
		`INSERT INTO audit_log
		 (id, kind, entity_type, entity_id, entity_seq,
		  actor_id, actor_name, actor_role, detail, amount,
		  before_value, after_value, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, string(e.Kind), e.EntityType, e.EntityID, e.EntitySeq,
		e.ActorID, e.ActorName, e.ActorRole, e.Detail, amount,
		e.BeforeValue, e.AfterValue, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AppendAudit дописывает запись в журнал аудита.
func (r *PostgresRepository) AppendAudit(ctx context.Context, e *model.AuditLogEntry) error {
	return r.withRetry(ctx, func() error {
		return insertAudit(ctx, r.pool, e)
	})
}

// ListAudit возвращает записи журнала по сущности, новые первыми.
func (r *PostgresRepository) ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]model.AuditLogEntry, error) {
	query := `SELECT id, kind, entity_type, entity_id, entity_seq,
	       actor_id, actor_name, actor_role, detail, amount,
	       before_value, after_value, created_at
	  FROM audit_log WHERE 1=1`
	args := []any{}
	if entityType != "" {
		args = append(args, entityType)
		query += fmt.Sprintf(` AND entity_type = $%d`, len(args))
	}
	if entityID != "" {
		args = append(args, entityID)
		query += fmt.Sprintf(` AND entity_id = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select audit: %w", err)
	}
	defer rows.Close()

	var res []model.AuditLogEntry
	for rows.Next() {
		var (
			e      model.AuditLogEntry
			kind   string
			amount *int64
		)
		err := rows.Scan(&e.ID, &kind, &e.EntityType, &e.EntityID, &e.EntitySeq,
			&e.ActorID, &e.ActorName, &e.ActorRole, &e.Detail, &amount,
			&e.BeforeValue, &e.AfterValue, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = model.AuditKind(kind)
		if amount != nil {
			v := model.Cents(*amount)
			e.Amount = &v
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpsertCreditScore сохраняет пересчитанную оценку клиники.
func (r *PostgresRepository) UpsertCreditScore(ctx context.Context, s *model.ClinicCreditScore) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO clinic_credit_scores
		 (clinic_id, score, rating, on_time_count, late_count, overdue_count, computed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (clinic_id) DO UPDATE SET
		   score = EXCLUDED.score, rating = EXCLUDED.rating,
		   on_time_count = EXCLUDED.on_time_count, late_count = EXCLUDED.late_count,
		   overdue_count = EXCLUDED.overdue_count, computed_at = EXCLUDED.computed_at`,
		s.ClinicID, s.Score, string(s.Rating), s.OnTimeCount, s.LateCount, s.OverdueCount, s.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert credit score: %w", err)
	}
	return nil
}

// GetCreditScore возвращает кэшированную оценку клиники, если она считалась.
func (r *PostgresRepository) GetCreditScore(ctx context.Context, clinicID string) (*model.ClinicCreditScore, error) {
	var (
		s      model.ClinicCreditScore
		rating string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT clinic_id, score, rating, on_time_count, late_count, overdue_count, computed_at
		 FROM clinic_credit_scores WHERE clinic_id = $1`,
		clinicID,
	).Scan(&s.ClinicID, &s.Score, &rating, &s.OnTimeCount, &s.LateCount, &s.OverdueCount, &s.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credit score: %w", err)
	}
	s.Rating = model.CreditRating(rating)
	return &s, nil
}

// Summary возвращает агрегаты по счетам и просроченным взносам для дашбордов.
func (r *PostgresRepository) Summary(ctx context.Context) (*model.LedgerSummary, error) {
	sum := &model.LedgerSummary{InvoiceCounts: map[model.InvoiceStatus]int{}}

	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*),
		        COALESCE(SUM(total_amount), 0), COALESCE(SUM(paid_amount), 0),
		        COALESCE(SUM(remaining_amount), 0)
		 FROM invoices GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoice summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status                 string
			count                  int
			total, paid, remaining int64
		)
		if err := rows.Scan(&status, &count, &total, &paid, &remaining); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		sum.InvoiceCounts[model.InvoiceStatus(status)] = count
		if model.InvoiceStatus(status) != model.InvoiceStatusCancelled {
			sum.TotalBilled += model.Cents(total)
			sum.TotalCollected += model.Cents(paid)
			sum.TotalOutstanding += model.Cents(remaining)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	var overdueAmount int64
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(remaining_amount), 0)
		 FROM installments WHERE status = $1`,
		string(model.InstallmentStatusOverdue),
	).Scan(&sum.OverdueCount, &overdueAmount)
	if err != nil {
		return nil, fmt.Errorf("select overdue summary: %w", err)
	}
	sum.OverdueAmount = model.Cents(overdueAmount)

	return sum, nil
}
