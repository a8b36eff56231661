package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/account"
	"github.com/coreledger/txcore/internal/domain/models"
	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
	"github.com/coreledger/txcore/internal/pkg/idempotency"
	"github.com/coreledger/txcore/internal/pkg/metrics"
)

// TransferRequest is the input to Transfer.
type TransferRequest struct {
	FromAccountID  string
	ToAccountID    string
	Amount         decimal.Decimal
	Description    string
	Reference      string
	Caller         string
	IdempotencyKey string
}

func (r TransferRequest) validate() error {
	if r.FromAccountID == "" || r.ToAccountID == "" {
		return apierrors.New(apierrors.CodeValidation, "fromAccountId and toAccountId are required")
	}
	if r.FromAccountID == r.ToAccountID {
		return apierrors.New(apierrors.CodeValidation, "fromAccountId and toAccountId must differ")
	}
	if r.FromAccountID == models.ExternalAccountID || r.ToAccountID == models.ExternalAccountID {
		return apierrors.New(apierrors.CodeValidation, "EXTERNAL is not a valid transfer endpoint")
	}
	if r.Amount.IsNegative() || r.Amount.IsZero() {
		return apierrors.New(apierrors.CodeValidation, "amount must be positive")
	}
	if r.Caller == "" {
		return apierrors.New(apierrors.CodeValidation, "caller is required")
	}
	return nil
}

// Transfer moves amount from FromAccountID to ToAccountID, debiting first
// and crediting second, compensating the debit if the credit leg fails.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (Projection, error) {
	if err := req.validate(); err != nil {
		return Projection{}, err
	}

	key := idempotency.Normalize(req.IdempotencyKey)
	if key != nil {
		if existing, err := e.store.FindByIdempotentKey(ctx, req.Caller, models.KindTransfer, *key); err != nil {
			return Projection{}, apierrors.Wrap(apierrors.CodeInternal, "idempotency lookup failed", err)
		} else if existing != nil {
			return toProjection(existing), nil
		}
	}

	fromSnapshot, err := e.gateway.GetAccount(ctx, req.FromAccountID)
	if err != nil {
		return Projection{}, err
	}
	toSnapshot, err := e.gateway.GetAccount(ctx, req.ToAccountID)
	if err != nil {
		return Projection{}, err
	}
	if fromSnapshot.Currency != toSnapshot.Currency {
		return Projection{}, apierrors.New(apierrors.CodeValidation, "cross-currency transfers are not supported")
	}

	decision := e.evaluator.Evaluate(ctx, req.FromAccountID, fromSnapshot.AccountType, models.KindTransfer, req.Amount)
	if !decision.Allowed {
		metrics.RecordLimitDenial(decision.Reason)
		return Projection{}, apierrors.New(apierrors.CodeLimitExceeded, decision.Reason)
	}

	available := fromSnapshot.Balance.Add(fromSnapshot.AvailableCredit)
	if available.LessThan(req.Amount) {
		return Projection{}, apierrors.ErrInsufficientFunds
	}

	txn := &models.Transaction{
		TransactionID:  uuid.NewString(),
		Kind:           models.KindTransfer,
		Status:         models.StatusProcessing,
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Currency:       e.currency,
		Description:    req.Description,
		Reference:      req.Reference,
		CreatedBy:      req.Caller,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}

	outcome, err := e.insertOrReplay(ctx, txn, models.KindTransfer, req.Caller, key)
	if err != nil {
		return Projection{}, err
	}
	if outcome.replayed {
		return toProjection(outcome.txn), nil
	}
	txn = outcome.txn

	e.emitInitiated(txn, req.Caller)

	if err := e.applyTransferLegs(ctx, txn); err != nil {
		return Projection{}, err
	}

	metrics.RecordTransaction(string(models.KindTransfer), string(txn.Status), req.Amount.InexactFloat64())
	return toProjection(txn), nil
}

// applyTransferLegs runs Transfer's debit-then-credit-with-compensation
// procedure (reversals use applyReversalLegs instead). It mutates txn's
// status in place via the store and returns the surfaced error, if any.
func (e *Engine) applyTransferLegs(ctx context.Context, txn *models.Transaction) error {
	debitOp := account.OperationID(txn.TransactionID, account.RoleDebit)
	label := string(txn.Kind) + " " + txn.TransactionID

	_, err := e.gateway.ApplyBalanceOperation(ctx, txn.FromAccountID, debitOp, txn.Amount.Neg(), txn.Description, label, false)
	if err != nil {
		e.fail(ctx, txn, err.Error())
		return err
	}

	creditOp := account.OperationID(txn.TransactionID, account.RoleCredit)
	_, err = e.gateway.ApplyBalanceOperation(ctx, txn.ToAccountID, creditOp, txn.Amount, txn.Description, label, true)
	if err == nil {
		e.complete(ctx, txn)
		return nil
	}

	compensateOp := account.OperationID(txn.TransactionID, account.RoleCompensate)
	_, compErr := e.gateway.ApplyBalanceOperation(ctx, txn.FromAccountID, compensateOp, txn.Amount, txn.Description, label, true)
	if compErr != nil {
		e.manualAction(ctx, txn, "compensation failed: "+compErr.Error())
		return apierrors.Wrap(apierrors.CodeManualAction, "credit failed and compensation failed", compErr)
	}

	e.fail(ctx, txn, err.Error())
	return err
}
