package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coreledger/txcore/internal/domain/account"
	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/models"
	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
	"github.com/coreledger/txcore/internal/pkg/idempotency"
	"github.com/coreledger/txcore/internal/pkg/logging"
	"github.com/coreledger/txcore/internal/pkg/metrics"
)

// reversalWindow bounds how far back an original transaction may still be
// reversed.
const reversalWindow = 30 * 24 * time.Hour

// ReversalRequest is the input to Reverse.
type ReversalRequest struct {
	OriginalTransactionID string
	Reason                string
	Caller                string
	IdempotencyKey        string
}

func (r ReversalRequest) validate() error {
	if r.OriginalTransactionID == "" {
		return apierrors.New(apierrors.CodeValidation, "originalTransactionId is required")
	}
	if r.Caller == "" {
		return apierrors.New(apierrors.CodeValidation, "caller is required")
	}
	return nil
}

// Reverse creates a new REVERSAL Transaction that cancels the effect of a
// prior COMPLETED transaction, subject to the eligibility gates in order:
// an original already in REVERSED status is rejected as already reversed;
// otherwise it must be COMPLETED, non-REVERSAL, within the reversal window,
// and have no active reversal.
func (e *Engine) Reverse(ctx context.Context, req ReversalRequest) (Projection, error) {
	if err := req.validate(); err != nil {
		return Projection{}, err
	}

	key := idempotency.Normalize(req.IdempotencyKey)
	if key != nil {
		if existing, err := e.store.FindByIdempotentKey(ctx, req.Caller, models.KindReversal, *key); err != nil {
			return Projection{}, apierrors.Wrap(apierrors.CodeInternal, "idempotency lookup failed", err)
		} else if existing != nil {
			return toProjection(existing), nil
		}
	}

	storeTx, err := e.store.BeginTx(ctx)
	if err != nil {
		return Projection{}, apierrors.Wrap(apierrors.CodeInternal, "failed to begin store transaction", err)
	}

	original, reversal, err := e.prepareReversal(ctx, storeTx, req, key)
	if err != nil {
		_ = storeTx.Rollback(ctx)
		return Projection{}, err
	}
	if reversal == nil {
		// prepareReversal returned a replay (idempotent hit discovered inside
		// the transaction); the first return value is the winning reversal
		// row, whose projection is returned as-is.
		_ = storeTx.Rollback(ctx)
		return toProjection(original), nil
	}

	if err := storeTx.Commit(ctx); err != nil {
		return Projection{}, apierrors.Wrap(apierrors.CodeInternal, "failed to commit reversal insert", err)
	}

	e.emitInitiated(reversal, req.Caller)

	if err := e.applyReversalLegs(ctx, original, reversal); err != nil {
		return Projection{}, err
	}

	metrics.RecordTransaction(string(models.KindReversal), string(reversal.Status), reversal.Amount.InexactFloat64())
	return toProjection(reversal), nil
}

// prepareReversal runs the eligibility gates and inserts the REVERSAL row,
// all under the row lock acquired on the original. Returns (winner, nil,
// nil) when the insert hit a concurrent idempotent replay, where winner is
// the already-persisted reversal row for the same key, or (original,
// reversal, nil) on success.
func (e *Engine) prepareReversal(ctx context.Context, storeTx ledger.Tx, req ReversalRequest, key *string) (*models.Transaction, *models.Transaction, error) {
	original, err := e.store.FindByIDWithLock(ctx, storeTx, req.OriginalTransactionID)
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.CodeInternal, "failed to lock original transaction", err)
	}
	if original == nil {
		return nil, nil, apierrors.ErrNotFound
	}
	if original.Status == models.StatusReversed {
		return nil, nil, apierrors.ErrAlreadyReversed
	}
	if original.Status != models.StatusCompleted {
		return nil, nil, apierrors.New(apierrors.CodeInvalidState, "original transaction is not completed")
	}
	if original.Kind == models.KindReversal {
		return nil, nil, apierrors.New(apierrors.CodeInvalidState, "cannot reverse a reversal")
	}
	if time.Since(original.CreatedAt) > reversalWindow {
		return nil, nil, apierrors.New(apierrors.CodeInvalidState, "original transaction is too old to reverse")
	}
	reversed, err := e.store.IsReversed(ctx, original.TransactionID)
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.CodeInternal, "failed to check reversal status", err)
	}
	if reversed {
		return nil, nil, apierrors.ErrAlreadyReversed
	}

	from, to := reversalLegs(original)

	reversal := &models.Transaction{
		TransactionID:         uuid.NewString(),
		Kind:                  models.KindReversal,
		Status:                models.StatusProcessing,
		FromAccountID:         from,
		ToAccountID:           to,
		Amount:                original.Amount,
		Currency:              original.Currency,
		Description:           req.Reason,
		Reference:             original.Reference,
		CreatedBy:             req.Caller,
		IdempotencyKey:        key,
		OriginalTransactionID: &original.TransactionID,
		CreatedAt:             time.Now().UTC(),
	}

	result, err := e.store.InsertWithTx(ctx, storeTx, reversal)
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.CodeInternal, "failed to persist reversal", err)
	}
	if result.Violation != nil {
		if result.Violation.Constraint == ledger.ConstraintReversalUnique {
			return nil, nil, apierrors.ErrAlreadyReversed
		}
		if key == nil {
			return nil, nil, apierrors.Wrap(apierrors.CodeInternal, "unexpected unique violation with no idempotency key", result.Violation)
		}
		winner, err := e.store.FindByIdempotentKey(ctx, req.Caller, models.KindReversal, *key)
		if err != nil {
			return nil, nil, apierrors.Wrap(apierrors.CodeInternal, "failed to re-query idempotent winner", err)
		}
		if winner == nil {
			return nil, nil, apierrors.Wrap(apierrors.CodeInternal, "unique violation with no winning row", result.Violation)
		}
		return winner, nil, nil
	}

	return original, result.Saved, nil
}

// reversalLegs computes the counter-party accounts for the reversal of
// original, per kind: TRANSFER swaps from/to, DEPOSIT debits the
// destination back to EXTERNAL, WITHDRAWAL credits the source back from
// EXTERNAL.
func reversalLegs(original *models.Transaction) (from, to string) {
	switch original.Kind {
	case models.KindTransfer:
		return original.ToAccountID, original.FromAccountID
	case models.KindDeposit:
		return original.ToAccountID, models.ExternalAccountID
	case models.KindWithdrawal:
		return models.ExternalAccountID, original.FromAccountID
	default:
		return original.ToAccountID, original.FromAccountID
	}
}

// applyReversalLegs drives the Account Gateway for the reversal using the
// same debit/credit/compensate discipline as Transfer, except that a
// gateway failure leaves the reversal (not the original) in
// FAILED_REQUIRES_MANUAL_ACTION, and success marks both rows atomically.
func (e *Engine) applyReversalLegs(ctx context.Context, original, reversal *models.Transaction) error {
	label := "REVERSAL " + reversal.TransactionID

	if reversal.FromAccountID != models.ExternalAccountID {
		debitOp := account.OperationID(reversal.TransactionID, account.RoleDebit)
		if _, err := e.gateway.ApplyBalanceOperation(ctx, reversal.FromAccountID, debitOp, reversal.Amount.Neg(), reversal.Description, label, false); err != nil {
			e.manualAction(ctx, reversal, "reversal debit leg failed: "+err.Error())
			return err
		}
	}

	if reversal.ToAccountID != models.ExternalAccountID {
		creditOp := account.OperationID(reversal.TransactionID, account.RoleCredit)
		if _, err := e.gateway.ApplyBalanceOperation(ctx, reversal.ToAccountID, creditOp, reversal.Amount, reversal.Description, label, true); err != nil {
			if reversal.FromAccountID != models.ExternalAccountID {
				compensateOp := account.OperationID(reversal.TransactionID, account.RoleCompensate)
				if _, compErr := e.gateway.ApplyBalanceOperation(ctx, reversal.FromAccountID, compensateOp, reversal.Amount, reversal.Description, label, true); compErr != nil {
					e.manualAction(ctx, reversal, "reversal compensation failed: "+compErr.Error())
					return apierrors.Wrap(apierrors.CodeManualAction, "reversal credit failed and compensation failed", compErr)
				}
			}
			e.manualAction(ctx, reversal, "reversal credit leg failed: "+err.Error())
			return err
		}
	}

	if err := e.finalizeReversal(ctx, original, reversal); err != nil {
		return err
	}
	return nil
}

// finalizeReversal transitions both the reversal and the original row in a
// single store transaction: reversal → COMPLETED, original → REVERSED.
func (e *Engine) finalizeReversal(ctx context.Context, original, reversal *models.Transaction) error {
	storeTx, err := e.store.BeginTx(ctx)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, "failed to begin finalize transaction", err)
	}

	now := time.Now().UTC()
	if err := e.store.UpdateStatusWithTx(ctx, storeTx, reversal.TransactionID, models.StatusCompleted, now, ""); err != nil {
		_ = storeTx.Rollback(ctx)
		logging.Error("engine: failed to mark reversal completed", err, map[string]interface{}{"transaction_id": reversal.TransactionID})
		return apierrors.Wrap(apierrors.CodeInternal, "failed to finalize reversal", err)
	}
	if err := e.store.UpdateStatusWithTx(ctx, storeTx, original.TransactionID, models.StatusReversed, now, ""); err != nil {
		_ = storeTx.Rollback(ctx)
		logging.Error("engine: failed to mark original reversed", err, map[string]interface{}{"transaction_id": original.TransactionID})
		return apierrors.Wrap(apierrors.CodeInternal, "failed to finalize original", err)
	}
	if err := storeTx.Commit(ctx); err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, "failed to commit reversal finalization", err)
	}

	reversal.Status = models.StatusCompleted
	reversal.ProcessedAt = &now
	original.Status = models.StatusReversed

	e.emitTerminal(reversal, reversal.CreatedBy, "")
	return nil
}
