package engine_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/txcore/internal/domain/account"
	"github.com/coreledger/txcore/internal/domain/audit"
	"github.com/coreledger/txcore/internal/domain/engine"
	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/limits"
	"github.com/coreledger/txcore/internal/domain/models"
	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
)

// failingCreditGateway wraps FakeGateway and rejects every credit-leg
// operation, regardless of the generated transaction id, so the
// debit-succeeds/credit-fails/compensate path can be exercised without
// predicting a uuid ahead of time. The rejected credit still goes through
// the fake (marked as failing), so it shows up in Operations().
type failingCreditGateway struct {
	*account.FakeGateway
}

func (g failingCreditGateway) ApplyBalanceOperation(ctx context.Context, accountID, operationID string, delta decimal.Decimal, reason, label string, creditBalancing bool) (*account.BalanceOpResponse, error) {
	if strings.HasSuffix(operationID, ":credit") {
		g.FakeGateway.FailOperationIDs = map[string]bool{operationID: true}
	}
	return g.FakeGateway.ApplyBalanceOperation(ctx, accountID, operationID, delta, reason, label, creditBalancing)
}

func TestTransferDebitsThenCreditsInOrder(t *testing.T) {
	e, _, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-a", decimal.NewFromInt(100))
	seedAccount(gateway, "acct-b", decimal.NewFromInt(0))

	proj, err := e.Transfer(context.Background(), engine.TransferRequest{
		FromAccountID: "acct-a",
		ToAccountID:   "acct-b",
		Amount:        decimal.NewFromInt(40),
		Caller:        "teller-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, proj.Status)

	ops := gateway.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "acct-a", ops[0].AccountID, "debit leg must run before credit")
	assert.True(t, ops[0].Delta.Equal(decimal.NewFromInt(-40)))
	assert.Equal(t, "acct-b", ops[1].AccountID)
	assert.True(t, ops[1].Delta.Equal(decimal.NewFromInt(40)))
}

func TestTransferSameAccountRejected(t *testing.T) {
	e, _, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-a", decimal.NewFromInt(100))

	_, err := e.Transfer(context.Background(), engine.TransferRequest{
		FromAccountID: "acct-a",
		ToAccountID:   "acct-a",
		Amount:        decimal.NewFromInt(10),
		Caller:        "teller-1",
	})
	require.Error(t, err)
	assert.Equal(t, apierrors.CodeValidation, apierrors.CodeOf(err))
}

func TestTransferCreditFailureCompensatesDebit(t *testing.T) {
	store := ledger.NewFakeStore()
	fake := account.NewFakeGateway()
	seedAccount(fake, "acct-a", decimal.NewFromInt(100))
	seedAccount(fake, "acct-b", decimal.NewFromInt(0))
	gateway := failingCreditGateway{fake}

	evaluator := limits.NewEvaluator(store, nil)
	sink := audit.NewSink(audit.LoggingPublisher{}, 16)
	t.Cleanup(sink.Close)
	e := engine.New(store, gateway, evaluator, sink, "USD")

	_, err := e.Transfer(context.Background(), engine.TransferRequest{
		FromAccountID: "acct-a",
		ToAccountID:   "acct-b",
		Amount:        decimal.NewFromInt(40),
		Caller:        "teller-1",
	})
	require.Error(t, err)

	ops := gateway.Operations()
	require.Len(t, ops, 3, "debit, failed credit, compensating credit")
	assert.Equal(t, "acct-a", ops[0].AccountID)
	assert.Equal(t, "acct-b", ops[1].AccountID)
	assert.Equal(t, "acct-a", ops[2].AccountID, "compensation credits the original debit back")
	assert.True(t, ops[2].Delta.Equal(decimal.NewFromInt(40)))

	page, lookupErr := store.Search(context.Background(), ledger.Filter{Kind: models.KindTransfer}, ledger.Page{Limit: 10})
	require.NoError(t, lookupErr)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, models.StatusFailed, page.Transactions[0].Status, "successful compensation still leaves the transfer FAILED, not manual action")
}

func TestTransferIdempotentReplaySkipsSecondExecution(t *testing.T) {
	e, _, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-a", decimal.NewFromInt(100))
	seedAccount(gateway, "acct-b", decimal.NewFromInt(0))

	req := engine.TransferRequest{
		FromAccountID:  "acct-a",
		ToAccountID:    "acct-b",
		Amount:         decimal.NewFromInt(25),
		Caller:         "teller-1",
		IdempotencyKey: "dup-1",
	}

	first, err := e.Transfer(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Transfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Len(t, gateway.Operations(), 2, "replay must not redrive the debit/credit legs")
}

func TestTransferEndpointCannotBeExternal(t *testing.T) {
	e, _, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-a", decimal.NewFromInt(100))

	_, err := e.Transfer(context.Background(), engine.TransferRequest{
		FromAccountID: "acct-a",
		ToAccountID:   models.ExternalAccountID,
		Amount:        decimal.NewFromInt(10),
		Caller:        "teller-1",
	})
	require.Error(t, err)
	assert.Equal(t, apierrors.CodeValidation, apierrors.CodeOf(err))
	assert.Empty(t, gateway.Operations())
}
