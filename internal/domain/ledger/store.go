// Package ledger defines the Ledger Store contract: durable, strongly
// consistent persistence for Transactions and TransactionLimits, with the
// idempotency and reversal-exclusivity constraints enforced at write time.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/models"
)

// UniqueViolation is returned by Insert instead of an error when the write
// collided with one of the two unique constraints. The Engine branches on
// it explicitly rather than relying on exception-style control flow.
type UniqueViolation struct {
	Constraint string
}

func (u *UniqueViolation) Error() string { return "unique violation: " + u.Constraint }

const (
	ConstraintIdempotencyKey = "uk_transaction_idempotency_key"
	ConstraintReversalUnique = "uk_reversal_per_original_transaction"
)

// InsertResult is the discriminated result of an Insert call: exactly one
// of Saved or Violation is set.
type InsertResult struct {
	Saved     *models.Transaction
	Violation *UniqueViolation
}

// Filter describes the parametric search predicate for Search. Every
// non-zero field narrows the result set; Search always executes as one
// database query with LIMIT/OFFSET, never in-memory filtering.
type Filter struct {
	AccountID           string // matches FromAccountID or ToAccountID
	Kind                models.TransactionKind
	Status              models.TransactionStatus
	CreatedBy           string
	CreatedAfter        *time.Time
	CreatedBefore       *time.Time
	MinAmount           *decimal.Decimal
	MaxAmount           *decimal.Decimal
	DescriptionContains string
	Reference           string
}

// Page is a database-level pagination request/response envelope.
type Page struct {
	Limit  int
	Offset int
}

type PagedTransactions struct {
	Transactions []models.Transaction
	Total        int
}

// Store is the full Ledger Store contract used by the Transaction Engine,
// Limit Evaluator and Scheduled Sweeper.
type Store interface {
	// FindByIdempotentKey looks up a transaction by the unique
	// (createdBy, kind, idempotencyKey) triple. Returns nil, nil on miss.
	FindByIdempotentKey(ctx context.Context, createdBy string, kind models.TransactionKind, key string) (*models.Transaction, error)

	// FindByIDWithLock acquires a row-level exclusive lock on the
	// transaction for the lifetime of tx. Must be called within a
	// transaction started by BeginTx.
	FindByIDWithLock(ctx context.Context, tx Tx, transactionID string) (*models.Transaction, error)

	// FindByID is a plain, non-locking lookup.
	FindByID(ctx context.Context, transactionID string) (*models.Transaction, error)

	// Insert atomically persists a new PROCESSING transaction, returning a
	// UniqueViolation instead of an error when a constraint fires.
	Insert(ctx context.Context, txn *models.Transaction) (*InsertResult, error)

	// InsertWithTx is Insert scoped to an explicit store transaction, used
	// by the reversal flow which must insert the reversal row and read the
	// original under the same lock.
	InsertWithTx(ctx context.Context, tx Tx, txn *models.Transaction) (*InsertResult, error)

	// UpdateStatus moves txn out of PROCESSING into a terminal state, or
	// from COMPLETED to REVERSED (see Transition). Returns an error for any
	// other transition out of a terminal state.
	UpdateStatus(ctx context.Context, transactionID string, newStatus models.TransactionStatus, processedAt time.Time, failureReason string) error

	// UpdateStatusWithTx is UpdateStatus scoped to an explicit store
	// transaction, used when two rows (a reversal and its original) must
	// transition atomically together.
	UpdateStatusWithTx(ctx context.Context, tx Tx, transactionID string, newStatus models.TransactionStatus, processedAt time.Time, failureReason string) error

	FindReversalsOf(ctx context.Context, originalID string) ([]models.Transaction, error)
	IsReversed(ctx context.Context, originalID string) (bool, error)
	FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Transaction, error)

	// SumAmount and Count restrict to COMPLETED rows, used by the Limit
	// Evaluator.
	SumAmount(ctx context.Context, accountID string, kind models.TransactionKind, since time.Time) (decimal.Decimal, error)
	Count(ctx context.Context, accountID string, kind models.TransactionKind, since time.Time) (int, error)

	Search(ctx context.Context, filter Filter, page Page) (*PagedTransactions, error)

	GetLimit(ctx context.Context, accountType string, kind models.TransactionKind) (*models.TransactionLimit, error)

	// BeginTx starts a store-level transaction for callers that need to
	// group a lock + insert/update under one atomic unit (the reversal
	// flow).
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is an opaque handle to an in-flight store transaction. Callers must
// call Commit or Rollback exactly once.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transition is the single choke point enforcing the state machine
// invariant: every transition out of PROCESSING goes to exactly one of the
// terminal states, and the only transition allowed out of an already
// terminal state is COMPLETED -> REVERSED, which finalizeReversal uses to
// retire an original transaction once its reversal has posted. Every
// UpdateStatus call site in the Engine and Sweeper must route through it
// first.
func Transition(from, to models.TransactionStatus) error {
	if from == models.StatusCompleted && to == models.StatusReversed {
		return nil
	}
	if from.Terminal() {
		return &TransitionError{From: from, To: to}
	}
	if !to.Terminal() {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

type TransitionError struct {
	From, To models.TransactionStatus
}

func (e *TransitionError) Error() string {
	return "invalid transition from " + string(e.From) + " to " + string(e.To)
}
