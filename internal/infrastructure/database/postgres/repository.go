package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/models"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolationCode is the PostgreSQL SQLSTATE for a unique_violation.
const uniqueViolationCode = "23505"

// LedgerRepository implements ledger.Store on top of a pgx pool.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Bootstrap applies the schema. Idempotent: every statement is
// CREATE ... IF NOT EXISTS.
func (r *LedgerRepository) Bootstrap(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// pgxTx adapts a pgx.Tx to the ledger.Tx interface.
type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (r *LedgerRepository) BeginTx(ctx context.Context) (ledger.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgxTx{tx: tx}, nil
}

func unwrapTx(tx ledger.Tx) pgx.Tx {
	return tx.(*pgxTx).tx
}

const txnColumns = `transaction_id, kind, status, from_account_id, to_account_id, amount, currency,
	description, reference, created_by, idempotency_key, original_transaction_id, failure_reason,
	created_at, processed_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (*models.Transaction, error) {
	var t models.Transaction
	var amount string
	err := row.Scan(
		&t.TransactionID, &t.Kind, &t.Status, &t.FromAccountID, &t.ToAccountID, &amount, &t.Currency,
		&t.Description, &t.Reference, &t.CreatedBy, &t.IdempotencyKey, &t.OriginalTransactionID, &t.FailureReason,
		&t.CreatedAt, &t.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	t.Amount = dec
	return &t, nil
}

func (r *LedgerRepository) FindByIdempotentKey(ctx context.Context, createdBy string, kind models.TransactionKind, key string) (*models.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE created_by = $1 AND kind = $2 AND idempotency_key = $3`
	row := r.pool.QueryRow(ctx, query, createdBy, kind, key)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *LedgerRepository) FindByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE transaction_id = $1`
	row := r.pool.QueryRow(ctx, query, transactionID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *LedgerRepository) FindByIDWithLock(ctx context.Context, tx ledger.Tx, transactionID string) (*models.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE transaction_id = $1 FOR UPDATE`
	row := unwrapTx(tx).QueryRow(ctx, query, transactionID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *LedgerRepository) insert(ctx context.Context, exec interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}, txn *models.Transaction) (*ledger.InsertResult, error) {
	query := `INSERT INTO transactions (` + txnColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err := exec.Exec(ctx, query,
		txn.TransactionID, txn.Kind, txn.Status, txn.FromAccountID, txn.ToAccountID,
		txn.Amount.StringFixed(2), txn.Currency, txn.Description, txn.Reference, txn.CreatedBy,
		txn.IdempotencyKey, txn.OriginalTransactionID, txn.FailureReason, txn.CreatedAt, txn.ProcessedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			constraint := ledger.ConstraintIdempotencyKey
			if strings.Contains(pgErr.ConstraintName, "reversal") {
				constraint = ledger.ConstraintReversalUnique
			}
			return &ledger.InsertResult{Violation: &ledger.UniqueViolation{Constraint: constraint}}, nil
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return &ledger.InsertResult{Saved: txn}, nil
}

func (r *LedgerRepository) Insert(ctx context.Context, txn *models.Transaction) (*ledger.InsertResult, error) {
	return r.insert(ctx, r.pool, txn)
}

func (r *LedgerRepository) InsertWithTx(ctx context.Context, tx ledger.Tx, txn *models.Transaction) (*ledger.InsertResult, error) {
	return r.insert(ctx, unwrapTx(tx), txn)
}

func (r *LedgerRepository) updateStatus(ctx context.Context, exec interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}, transactionID string, newStatus models.TransactionStatus, processedAt time.Time, failureReason string) error {
	var currentStatus models.TransactionStatus
	err := exec.QueryRow(ctx, `SELECT status FROM transactions WHERE transaction_id = $1`, transactionID).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("transaction %s not found", transactionID)
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}
	if err := ledger.Transition(currentStatus, newStatus); err != nil {
		return err
	}

	_, err = exec.Exec(ctx,
		`UPDATE transactions SET status = $1, processed_at = $2, failure_reason = $3 WHERE transaction_id = $4`,
		newStatus, processedAt, failureReason, transactionID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (r *LedgerRepository) UpdateStatus(ctx context.Context, transactionID string, newStatus models.TransactionStatus, processedAt time.Time, failureReason string) error {
	return r.updateStatus(ctx, r.pool, transactionID, newStatus, processedAt, failureReason)
}

func (r *LedgerRepository) UpdateStatusWithTx(ctx context.Context, tx ledger.Tx, transactionID string, newStatus models.TransactionStatus, processedAt time.Time, failureReason string) error {
	return r.updateStatus(ctx, unwrapTx(tx), transactionID, newStatus, processedAt, failureReason)
}

func (r *LedgerRepository) FindReversalsOf(ctx context.Context, originalID string) ([]models.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE original_transaction_id = $1 AND kind = 'REVERSAL'`
	rows, err := r.pool.Query(ctx, query, originalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *LedgerRepository) IsReversed(ctx context.Context, originalID string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM transactions
		WHERE original_transaction_id = $1 AND kind = 'REVERSAL' AND status IN ('PROCESSING', 'COMPLETED')`
	if err := r.pool.QueryRow(ctx, query, originalID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *LedgerRepository) FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE status = 'PROCESSING' AND created_at < $1`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// SumAmount and Count match on either leg of the transaction: a deposit's
// subject account is its to_account_id, while a withdrawal's or transfer's
// is its from_account_id, so the cap must follow the account regardless of
// which column it landed in.
func (r *LedgerRepository) SumAmount(ctx context.Context, accountID string, kind models.TransactionKind, since time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE (from_account_id = $1 OR to_account_id = $1) AND kind = $2 AND status = 'COMPLETED' AND created_at >= $3`
	var sum string
	if err := r.pool.QueryRow(ctx, query, accountID, kind, since).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}

func (r *LedgerRepository) Count(ctx context.Context, accountID string, kind models.TransactionKind, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM transactions
		WHERE (from_account_id = $1 OR to_account_id = $1) AND kind = $2 AND status = 'COMPLETED' AND created_at >= $3`
	var count int
	err := r.pool.QueryRow(ctx, query, accountID, kind, since).Scan(&count)
	return count, err
}

// Search builds one parametrized query from filter and executes it with
// LIMIT/OFFSET — no in-memory filtering over unbounded result sets.
func (r *LedgerRepository) Search(ctx context.Context, filter ledger.Filter, page ledger.Page) (*ledger.PagedTransactions, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AccountID != "" {
		conditions = append(conditions, fmt.Sprintf("(from_account_id = %s OR to_account_id = %s)", arg(filter.AccountID), arg(filter.AccountID)))
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = "+arg(filter.Kind))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(filter.Status))
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, "created_by = "+arg(filter.CreatedBy))
	}
	if filter.CreatedAfter != nil {
		conditions = append(conditions, "created_at >= "+arg(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		conditions = append(conditions, "created_at <= "+arg(*filter.CreatedBefore))
	}
	if filter.MinAmount != nil {
		conditions = append(conditions, "amount >= "+arg(filter.MinAmount.StringFixed(2)))
	}
	if filter.MaxAmount != nil {
		conditions = append(conditions, "amount <= "+arg(filter.MaxAmount.StringFixed(2)))
	}
	if filter.DescriptionContains != "" {
		conditions = append(conditions, "description ILIKE "+arg("%"+filter.DescriptionContains+"%"))
	}
	if filter.Reference != "" {
		conditions = append(conditions, "reference = "+arg(filter.Reference))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := page.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	countQuery := "SELECT COUNT(*) FROM transactions" + where
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count search results: %w", err)
	}

	dataQuery := "SELECT " + txnColumns + " FROM transactions" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT %s OFFSET %s", arg(limit), arg(page.Offset))
	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search transactions: %w", err)
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ledger.PagedTransactions{Transactions: result, Total: total}, nil
}

func (r *LedgerRepository) GetLimit(ctx context.Context, accountType string, kind models.TransactionKind) (*models.TransactionLimit, error) {
	query := `SELECT account_type, kind, per_operation_cap, daily_amount_cap, monthly_amount_cap,
		daily_count_cap, monthly_count_cap, active
		FROM transaction_limits WHERE account_type = $1 AND kind = $2`

	var l models.TransactionLimit
	var perOp, dailyAmt, monthlyAmt *string
	err := r.pool.QueryRow(ctx, query, accountType, kind).Scan(
		&l.AccountType, &l.Kind, &perOp, &dailyAmt, &monthlyAmt, &l.DailyCountCap, &l.MonthlyCountCap, &l.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if perOp != nil {
		d, err := decimal.NewFromString(*perOp)
		if err != nil {
			return nil, err
		}
		l.PerOperationCap = &d
	}
	if dailyAmt != nil {
		d, err := decimal.NewFromString(*dailyAmt)
		if err != nil {
			return nil, err
		}
		l.DailyAmountCap = &d
	}
	if monthlyAmt != nil {
		d, err := decimal.NewFromString(*monthlyAmt)
		if err != nil {
			return nil, err
		}
		l.MonthlyAmountCap = &d
	}

	return &l, nil
}
