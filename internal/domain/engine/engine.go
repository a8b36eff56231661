// Package engine implements the Transaction Engine: the orchestrator that
// validates requests, pre-checks idempotency, persists intent, drives the
// Account Gateway through debit/credit/compensate, and finalises ledger
// state. Apart from the Scheduled Sweeper, which fails rows stuck in
// PROCESSING, it is the only component that mutates a Transaction's status.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/account"
	"github.com/coreledger/txcore/internal/domain/audit"
	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/limits"
	"github.com/coreledger/txcore/internal/domain/models"
	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
	"github.com/coreledger/txcore/internal/pkg/idempotency"
	"github.com/coreledger/txcore/internal/pkg/logging"
	"github.com/coreledger/txcore/internal/pkg/metrics"
)

// Engine is constructed with its collaborators injected explicitly; there
// are no package-level singletons anywhere in this core.
type Engine struct {
	store     ledger.Store
	gateway   account.Gateway
	evaluator *limits.Evaluator
	sink      *audit.Sink
	currency  string
}

func New(store ledger.Store, gateway account.Gateway, evaluator *limits.Evaluator, sink *audit.Sink, currency string) *Engine {
	return &Engine{store: store, gateway: gateway, evaluator: evaluator, sink: sink, currency: currency}
}

// Projection is the caller-facing view of a Transaction, returned by every
// public Engine operation regardless of whether it executed fresh or
// replayed a prior idempotent result.
type Projection struct {
	TransactionID string
	Kind          models.TransactionKind
	Status        models.TransactionStatus
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	FailureReason string
}

func toProjection(t *models.Transaction) Projection {
	return Projection{
		TransactionID: t.TransactionID,
		Kind:          t.Kind,
		Status:        t.Status,
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		CreatedAt:     t.CreatedAt,
		ProcessedAt:   t.ProcessedAt,
		FailureReason: t.FailureReason,
	}
}

// DepositWithdrawRequest is the input to Deposit and Withdraw.
type DepositWithdrawRequest struct {
	AccountID      string
	Amount         decimal.Decimal
	Description    string
	Reference      string
	Caller         string
	IdempotencyKey string
}

func (r DepositWithdrawRequest) validate() error {
	if r.AccountID == "" {
		return apierrors.New(apierrors.CodeValidation, "accountId is required")
	}
	if r.Amount.IsNegative() || r.Amount.IsZero() {
		return apierrors.New(apierrors.CodeValidation, "amount must be positive")
	}
	if r.Caller == "" {
		return apierrors.New(apierrors.CodeValidation, "caller is required")
	}
	return nil
}

// Deposit credits accountId from the EXTERNAL sentinel.
func (e *Engine) Deposit(ctx context.Context, req DepositWithdrawRequest) (Projection, error) {
	return e.depositOrWithdraw(ctx, req, models.KindDeposit)
}

// Withdraw debits accountId to the EXTERNAL sentinel.
func (e *Engine) Withdraw(ctx context.Context, req DepositWithdrawRequest) (Projection, error) {
	return e.depositOrWithdraw(ctx, req, models.KindWithdrawal)
}

func (e *Engine) depositOrWithdraw(ctx context.Context, req DepositWithdrawRequest, kind models.TransactionKind) (Projection, error) {
	if err := req.validate(); err != nil {
		return Projection{}, err
	}

	key := idempotency.Normalize(req.IdempotencyKey)
	if key != nil {
		if existing, err := e.store.FindByIdempotentKey(ctx, req.Caller, kind, *key); err != nil {
			return Projection{}, apierrors.Wrap(apierrors.CodeInternal, "idempotency lookup failed", err)
		} else if existing != nil {
			return toProjection(existing), nil
		}
	}

	snapshot, err := e.gateway.GetAccount(ctx, req.AccountID)
	if err != nil {
		return Projection{}, err
	}

	decision := e.evaluator.Evaluate(ctx, req.AccountID, snapshot.AccountType, kind, req.Amount)
	if !decision.Allowed {
		metrics.RecordLimitDenial(decision.Reason)
		return Projection{}, apierrors.New(apierrors.CodeLimitExceeded, decision.Reason)
	}

	if kind == models.KindWithdrawal {
		available := snapshot.Balance.Add(snapshot.AvailableCredit)
		if available.LessThan(req.Amount) {
			return Projection{}, apierrors.ErrInsufficientFunds
		}
	}

	from, to := models.ExternalAccountID, req.AccountID
	if kind == models.KindWithdrawal {
		from, to = req.AccountID, models.ExternalAccountID
	}

	txn := &models.Transaction{
		TransactionID:  uuid.NewString(),
		Kind:           kind,
		Status:         models.StatusProcessing,
		FromAccountID:  from,
		ToAccountID:    to,
		Amount:         req.Amount,
		Currency:       e.currency,
		Description:    req.Description,
		Reference:      req.Reference,
		CreatedBy:      req.Caller,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}

	saved, err := e.insertOrReplay(ctx, txn, kind, req.Caller, key)
	if err != nil {
		return Projection{}, err
	}
	if saved.replayed {
		return toProjection(saved.txn), nil
	}
	txn = saved.txn

	e.emitInitiated(txn, req.Caller)

	role := account.RoleCredit
	delta := req.Amount
	creditBalancing := true
	if kind == models.KindWithdrawal {
		role = account.RoleDebit
		delta = req.Amount.Neg()
		creditBalancing = false
	}

	opID := account.OperationID(txn.TransactionID, role)
	label := string(kind) + " " + txn.TransactionID
	_, err = e.gateway.ApplyBalanceOperation(ctx, req.AccountID, opID, delta, req.Description, label, creditBalancing)
	if err != nil {
		e.fail(ctx, txn, err.Error())
		metrics.RecordTransaction(string(kind), string(models.StatusFailed), req.Amount.InexactFloat64())
		return Projection{}, err
	}

	e.complete(ctx, txn)
	metrics.RecordTransaction(string(kind), string(models.StatusCompleted), req.Amount.InexactFloat64())
	return toProjection(txn), nil
}

type insertOutcome struct {
	txn      *models.Transaction
	replayed bool
}

// insertOrReplay inserts txn and, if a concurrent winner beat it to the same
// idempotency key, re-queries and returns the winner's row instead.
func (e *Engine) insertOrReplay(ctx context.Context, txn *models.Transaction, kind models.TransactionKind, caller string, key *string) (insertOutcome, error) {
	result, err := e.store.Insert(ctx, txn)
	if err != nil {
		return insertOutcome{}, apierrors.Wrap(apierrors.CodeInternal, "failed to persist transaction", err)
	}
	if result.Violation != nil {
		if key == nil {
			return insertOutcome{}, apierrors.Wrap(apierrors.CodeInternal, "unexpected unique violation with no idempotency key", result.Violation)
		}
		winner, err := e.store.FindByIdempotentKey(ctx, caller, kind, *key)
		if err != nil {
			return insertOutcome{}, apierrors.Wrap(apierrors.CodeInternal, "failed to re-query idempotent winner", err)
		}
		if winner == nil {
			return insertOutcome{}, apierrors.Wrap(apierrors.CodeInternal, "unique violation with no winning row", result.Violation)
		}
		return insertOutcome{txn: winner, replayed: true}, nil
	}
	return insertOutcome{txn: result.Saved}, nil
}

func (e *Engine) complete(ctx context.Context, txn *models.Transaction) {
	now := time.Now().UTC()
	if err := e.store.UpdateStatus(ctx, txn.TransactionID, models.StatusCompleted, now, ""); err != nil {
		logging.Error("engine: failed to mark transaction completed", err, map[string]interface{}{"transaction_id": txn.TransactionID})
	}
	txn.Status = models.StatusCompleted
	txn.ProcessedAt = &now
	e.emitTerminal(txn, txn.CreatedBy, "")
}

func (e *Engine) fail(ctx context.Context, txn *models.Transaction, reason string) {
	now := time.Now().UTC()
	if err := e.store.UpdateStatus(ctx, txn.TransactionID, models.StatusFailed, now, reason); err != nil {
		logging.Error("engine: failed to mark transaction failed", err, map[string]interface{}{"transaction_id": txn.TransactionID})
	}
	txn.Status = models.StatusFailed
	txn.ProcessedAt = &now
	txn.FailureReason = reason
	e.emitTerminal(txn, txn.CreatedBy, reason)
}

func (e *Engine) manualAction(ctx context.Context, txn *models.Transaction, reason string) {
	now := time.Now().UTC()
	if err := e.store.UpdateStatus(ctx, txn.TransactionID, models.StatusManualAction, now, reason); err != nil {
		logging.Error("engine: failed to mark transaction as requiring manual action", err, map[string]interface{}{"transaction_id": txn.TransactionID})
	}
	txn.Status = models.StatusManualAction
	txn.ProcessedAt = &now
	txn.FailureReason = reason
	logging.Error("transaction requires manual action", nil, map[string]interface{}{
		"transaction_id": txn.TransactionID, "reason": reason,
	})
	e.emitTerminal(txn, txn.CreatedBy, reason)
}

func (e *Engine) emitInitiated(txn *models.Transaction, caller string) {
	e.sink.Emit(audit.Event{
		CorrelationID: txn.TransactionID,
		Caller:        caller,
		Kind:          txn.Kind,
		FromAccountID: txn.FromAccountID,
		ToAccountID:   txn.ToAccountID,
		Amount:        txn.Amount,
		Status:        txn.Status,
		Outcome:       audit.OutcomeInitiated,
	})
}

func (e *Engine) emitTerminal(txn *models.Transaction, caller, reasonCode string) {
	outcome := audit.OutcomeSuccess
	if reasonCode != "" {
		outcome = audit.OutcomeFailure
	}
	e.sink.Emit(audit.Event{
		CorrelationID: txn.TransactionID,
		Caller:        caller,
		Kind:          txn.Kind,
		FromAccountID: txn.FromAccountID,
		ToAccountID:   txn.ToAccountID,
		Amount:        txn.Amount,
		Status:        txn.Status,
		Outcome:       outcome,
		ReasonCode:    reasonCode,
	})
}
