package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
)

// Postgres implements Repository and BatchRepository on pgx.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed repository.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const paymentColumns = `id, type, amount::text, currency, sender, receiver, status, channel,
	reference_number, description, details, fraud_check, metadata,
	initiated_at, processed_at, completed_at, version`

func (r *Postgres) Save(ctx context.Context, p *domain.Payment) error {
	sender, receiver, details, fraud, metadata, err := encodePayment(p)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO payments (id, type, amount, currency, sender, sender_account, receiver, status,
			channel, reference_number, description, details, fraud_check, metadata,
			initiated_at, processed_at, completed_at, version)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, string(p.Type), p.Amount.Value().StringFixed(2), p.Amount.Currency(),
		sender, p.Sender.AccountNumber, receiver, string(p.Status), p.Channel,
		p.ReferenceNumber, p.Description, details, fraud, metadata,
		p.InitiatedAt, p.ProcessedAt, p.CompletedAt, p.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateReference
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Postgres) Update(ctx context.Context, p *domain.Payment, expectedVersion int64) error {
	_, _, details, fraud, metadata, err := encodePayment(p)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = $1, details = $2, fraud_check = $3, metadata = $4,
			processed_at = $5, completed_at = $6, version = $7
		WHERE id = $8 AND version = $9`,
		string(p.Status), details, fraud, metadata,
		p.ProcessedAt, p.CompletedAt, p.Version, p.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row is gone or a concurrent writer moved the version.
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check payment existence: %w", err)
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *Postgres) FindByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference_number = $1`, reference)
	return scanPayment(row)
}

func (r *Postgres) FindByCriteria(ctx context.Context, c Criteria) ([]*domain.Payment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if len(c.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(c.Statuses))
	}
	if len(c.Types) > 0 {
		add("type = ANY($%d)", typeStrings(c.Types))
	}
	if c.SenderAccount != "" {
		add("sender_account = $%d", c.SenderAccount)
	}
	if !c.InitiatedAfter.IsZero() {
		add("initiated_at >= $%d", c.InitiatedAfter)
	}
	if !c.InitiatedBefore.IsZero() {
		add("initiated_at < $%d", c.InitiatedBefore)
	}
	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY initiated_at ASC"
	if c.Limit > 0 {
		args = append(args, c.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Postgres) GetDailyAmount(ctx context.Context, account string, t domain.PaymentType, day time.Time) (decimal.Decimal, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return r.sumWindow(ctx, account, t, start, start.AddDate(0, 0, 1))
}

func (r *Postgres) GetMonthlyAmount(ctx context.Context, account string, t domain.PaymentType, month time.Time) (decimal.Decimal, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return r.sumWindow(ctx, account, t, start, start.AddDate(0, 1, 0))
}

func (r *Postgres) sumWindow(ctx context.Context, account string, t domain.PaymentType, from, to time.Time) (decimal.Decimal, error) {
	var total string
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM payments
		WHERE sender_account = $1 AND type = $2
			AND status NOT IN ('FAILED', 'CANCELLED', 'RETURNED')
			AND initiated_at >= $3 AND initiated_at < $4`,
		account, string(t), from, to).Scan(&total)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("sum payment window: %w", err)
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse window total: %w", err)
	}
	return d, nil
}

func (r *Postgres) RecentBySender(ctx context.Context, account string, limit int) ([]*domain.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE sender_account = $1
		ORDER BY initiated_at DESC
		LIMIT $2`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query sender history: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Postgres) AppendAudit(ctx context.Context, rec AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, reference, action, prev_state, next_state, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.EntityType, rec.EntityID, rec.Reference, rec.Action,
		rec.PrevState, rec.NextState, rec.Reason, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *Postgres) SaveBatch(ctx context.Context, b *domain.Batch) error {
	ids, err := json.Marshal(b.TransactionIDs)
	if err != nil {
		return fmt.Errorf("encode batch members: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO batches (id, cutoff_time, status, transaction_ids, member_count, total_amount, max_transactions)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			transaction_ids = EXCLUDED.transaction_ids,
			member_count = EXCLUDED.member_count,
			total_amount = EXCLUDED.total_amount`,
		b.ID, b.CutoffTime, string(b.Status), ids, b.Count,
		b.TotalAmount.StringFixed(2), b.MaxTransactions)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

func (r *Postgres) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, cutoff_time, status, transaction_ids, member_count, total_amount::text, max_transactions
		FROM batches WHERE id = $1`, id)
	return scanBatch(row)
}

func (r *Postgres) DueOpenBatches(ctx context.Context, asOf time.Time) ([]*domain.Batch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, cutoff_time, status, transaction_ids, member_count, total_amount::text, max_transactions
		FROM batches
		WHERE status = 'OPEN' AND cutoff_time <= $1
		ORDER BY cutoff_time ASC`, asOf)
	if err != nil {
		return nil, fmt.Errorf("query due batches: %w", err)
	}
	defer rows.Close()

	var out []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Postgres) ClosedBatches(ctx context.Context) ([]*domain.Batch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, cutoff_time, status, transaction_ids, member_count, total_amount::text, max_transactions
		FROM batches
		WHERE status = 'CLOSED'
		ORDER BY cutoff_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("query closed batches: %w", err)
	}
	defer rows.Close()

	var out []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func encodePayment(p *domain.Payment) (sender, receiver, details, fraud, metadata []byte, err error) {
	if sender, err = json.Marshal(p.Sender); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("encode sender: %w", err)
	}
	if receiver, err = json.Marshal(p.Receiver); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("encode receiver: %w", err)
	}
	if details, err = domain.MarshalDetails(p.Details); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if p.FraudCheck != nil {
		if fraud, err = json.Marshal(p.FraudCheck); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("encode fraud check: %w", err)
		}
	}
	if len(p.Metadata) > 0 {
		if metadata, err = json.Marshal(p.Metadata); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	return sender, receiver, details, fraud, metadata, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p          domain.Payment
		typ        string
		status     string
		amountText string
		currency   string
		sender     []byte
		receiver   []byte
		details    []byte
		fraud      []byte
		metadata   []byte
	)
	err := row.Scan(&p.ID, &typ, &amountText, &currency, &sender, &receiver, &status,
		&p.Channel, &p.ReferenceNumber, &p.Description, &details, &fraud, &metadata,
		&p.InitiatedAt, &p.ProcessedAt, &p.CompletedAt, &p.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.Type = domain.PaymentType(typ)
	p.Status = domain.Status(status)
	if p.Amount, err = domain.AmountFromString(amountText, currency); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	if err = json.Unmarshal(sender, &p.Sender); err != nil {
		return nil, fmt.Errorf("decode sender: %w", err)
	}
	if err = json.Unmarshal(receiver, &p.Receiver); err != nil {
		return nil, fmt.Errorf("decode receiver: %w", err)
	}
	if p.Details, err = domain.UnmarshalDetails(details); err != nil {
		return nil, err
	}
	if len(fraud) > 0 {
		var fc domain.FraudCheck
		if err = json.Unmarshal(fraud, &fc); err != nil {
			return nil, fmt.Errorf("decode fraud check: %w", err)
		}
		p.FraudCheck = &fc
	}
	if len(metadata) > 0 {
		if err = json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &p, nil
}

func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var (
		b         domain.Batch
		status    string
		ids       []byte
		totalText string
	)
	err := row.Scan(&b.ID, &b.CutoffTime, &status, &ids, &b.Count, &totalText, &b.MaxTransactions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	b.Status = domain.BatchStatus(status)
	if err = json.Unmarshal(ids, &b.TransactionIDs); err != nil {
		return nil, fmt.Errorf("decode batch members: %w", err)
	}
	if b.TotalAmount, err = decimal.NewFromString(totalText); err != nil {
		return nil, fmt.Errorf("decode batch total: %w", err)
	}
	return &b, nil
}

func statusStrings(in []domain.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func typeStrings(in []domain.PaymentType) []string {
	out := make([]string, len(in))
	for i, t := range in {
		out[i] = string(t)
	}
	return out
}
