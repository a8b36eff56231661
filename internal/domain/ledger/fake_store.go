package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/models"
)

// FakeStore is an in-memory Store used by unit tests for the Engine, the
// Limit Evaluator and the Sweeper. It enforces the same two unique
// constraints as the Postgres-backed implementation and serialises
// BeginTx/Commit/Rollback the same way a row lock would, so concurrency
// tests (idempotency races, double-reversal races) exercise real
// contention rather than a mocked-away one.
//
// Unlike the production repository, FakeStore is allowed to filter
// in-memory: it exists to make domain logic testable without a database,
// not to model the store's own performance characteristics.
type FakeStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	byID   map[string]*models.Transaction
	limits map[limitKey]*models.TransactionLimit
}

type limitKey struct {
	accountType string
	kind        models.TransactionKind
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		byID:   make(map[string]*models.Transaction),
		limits: make(map[limitKey]*models.TransactionLimit),
	}
}

// SeedLimit installs a TransactionLimit the Evaluator will read back via
// GetLimit.
func (f *FakeStore) SeedLimit(l models.TransactionLimit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[limitKey{l.AccountType, l.Kind}] = &l
}

type fakeTx struct{ store *FakeStore }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.store.txMu.Unlock()
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.store.txMu.Unlock()
	return nil
}

func (f *FakeStore) BeginTx(ctx context.Context) (Tx, error) {
	f.txMu.Lock()
	return &fakeTx{store: f}, nil
}

func (f *FakeStore) FindByIdempotentKey(ctx context.Context, createdBy string, kind models.TransactionKind, key string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.CreatedBy == createdBy && t.Kind == kind && t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			copy := *t
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *FakeStore) FindByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[transactionID]
	if !ok {
		return nil, nil
	}
	copy := *t
	return &copy, nil
}

func (f *FakeStore) FindByIDWithLock(ctx context.Context, tx Tx, transactionID string) (*models.Transaction, error) {
	return f.FindByID(ctx, transactionID)
}

func (f *FakeStore) insertLocked(txn *models.Transaction) *InsertResult {
	if txn.IdempotencyKey != nil {
		for _, existing := range f.byID {
			if existing.CreatedBy == txn.CreatedBy && existing.Kind == txn.Kind &&
				existing.IdempotencyKey != nil && *existing.IdempotencyKey == *txn.IdempotencyKey {
				return &InsertResult{Violation: &UniqueViolation{Constraint: ConstraintIdempotencyKey}}
			}
		}
	}
	if txn.Kind == models.KindReversal && txn.OriginalTransactionID != nil {
		for _, existing := range f.byID {
			if existing.Kind == models.KindReversal && existing.OriginalTransactionID != nil &&
				*existing.OriginalTransactionID == *txn.OriginalTransactionID &&
				(existing.Status == models.StatusProcessing || existing.Status == models.StatusCompleted) {
				return &InsertResult{Violation: &UniqueViolation{Constraint: ConstraintReversalUnique}}
			}
		}
	}
	copy := *txn
	f.byID[txn.TransactionID] = &copy
	return &InsertResult{Saved: txn}
}

func (f *FakeStore) Insert(ctx context.Context, txn *models.Transaction) (*InsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(txn), nil
}

func (f *FakeStore) InsertWithTx(ctx context.Context, tx Tx, txn *models.Transaction) (*InsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(txn), nil
}

func (f *FakeStore) updateStatusLocked(transactionID string, newStatus models.TransactionStatus, processedAt time.Time, failureReason string) error {
	t, ok := f.byID[transactionID]
	if !ok {
		return ErrNotFoundInStore
	}
	if err := Transition(t.Status, newStatus); err != nil {
		return err
	}
	t.Status = newStatus
	t.ProcessedAt = &processedAt
	t.FailureReason = failureReason
	return nil
}

func (f *FakeStore) UpdateStatus(ctx context.Context, transactionID string, newStatus models.TransactionStatus, processedAt time.Time, failureReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateStatusLocked(transactionID, newStatus, processedAt, failureReason)
}

func (f *FakeStore) UpdateStatusWithTx(ctx context.Context, tx Tx, transactionID string, newStatus models.TransactionStatus, processedAt time.Time, failureReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateStatusLocked(transactionID, newStatus, processedAt, failureReason)
}

func (f *FakeStore) FindReversalsOf(ctx context.Context, originalID string) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.byID {
		if t.Kind == models.KindReversal && t.OriginalTransactionID != nil && *t.OriginalTransactionID == originalID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *FakeStore) IsReversed(ctx context.Context, originalID string) (bool, error) {
	reversals, _ := f.FindReversalsOf(ctx, originalID)
	for _, r := range reversals {
		if r.Status == models.StatusProcessing || r.Status == models.StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeStore) FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.byID {
		if t.Status == models.StatusProcessing && t.CreatedAt.Before(cutoff) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SumAmount and Count match on either leg of the transaction, mirroring the
// repository: a deposit's subject account is its ToAccountID, while a
// withdrawal's or transfer's is its FromAccountID.
func (f *FakeStore) SumAmount(ctx context.Context, accountID string, kind models.TransactionKind, since time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, t := range f.byID {
		if (t.FromAccountID == accountID || t.ToAccountID == accountID) && t.Kind == kind && t.Status == models.StatusCompleted && !t.CreatedAt.Before(since) {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (f *FakeStore) Count(ctx context.Context, accountID string, kind models.TransactionKind, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.byID {
		if (t.FromAccountID == accountID || t.ToAccountID == accountID) && t.Kind == kind && t.Status == models.StatusCompleted && !t.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *FakeStore) Search(ctx context.Context, filter Filter, page Page) (*PagedTransactions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []models.Transaction
	for _, t := range f.byID {
		if !matches(t, filter) {
			continue
		}
		matched = append(matched, *t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := page.Offset
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &PagedTransactions{Transactions: matched[offset:end], Total: total}, nil
}

func matches(t *models.Transaction, filter Filter) bool {
	if filter.AccountID != "" && t.FromAccountID != filter.AccountID && t.ToAccountID != filter.AccountID {
		return false
	}
	if filter.Kind != "" && t.Kind != filter.Kind {
		return false
	}
	if filter.Status != "" && t.Status != filter.Status {
		return false
	}
	if filter.CreatedBy != "" && t.CreatedBy != filter.CreatedBy {
		return false
	}
	if filter.CreatedAfter != nil && t.CreatedAt.Before(*filter.CreatedAfter) {
		return false
	}
	if filter.CreatedBefore != nil && t.CreatedAt.After(*filter.CreatedBefore) {
		return false
	}
	if filter.MinAmount != nil && t.Amount.LessThan(*filter.MinAmount) {
		return false
	}
	if filter.MaxAmount != nil && t.Amount.GreaterThan(*filter.MaxAmount) {
		return false
	}
	if filter.DescriptionContains != "" && !strings.Contains(strings.ToLower(t.Description), strings.ToLower(filter.DescriptionContains)) {
		return false
	}
	if filter.Reference != "" && t.Reference != filter.Reference {
		return false
	}
	return true
}

func (f *FakeStore) GetLimit(ctx context.Context, accountType string, kind models.TransactionKind) (*models.TransactionLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limits[limitKey{accountType, kind}]
	if !ok {
		return nil, nil
	}
	copy := *l
	return &copy, nil
}

// ErrNotFoundInStore is returned by UpdateStatus when the row does not
// exist, mirroring the repository's "transaction not found" failure mode.
var ErrNotFoundInStore = &notFoundError{}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "transaction not found" }
