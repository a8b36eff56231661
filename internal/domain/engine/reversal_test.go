package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/txcore/internal/domain/engine"
	"github.com/coreledger/txcore/internal/domain/models"
	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
)

func TestReverseDepositRestoresExternalLeg(t *testing.T) {
	e, _, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-1", decimal.NewFromInt(0))

	deposit, err := e.Deposit(context.Background(), engine.DepositWithdrawRequest{
		AccountID: "acct-1",
		Amount:    decimal.NewFromInt(75),
		Caller:    "teller-1",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, deposit.Status)

	reversal, err := e.Reverse(context.Background(), engine.ReversalRequest{
		OriginalTransactionID: deposit.TransactionID,
		Reason:                "customer dispute",
		Caller:                "teller-2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, reversal.Status)
	assert.Equal(t, "acct-1", reversal.FromAccountID)
	assert.Equal(t, models.ExternalAccountID, reversal.ToAccountID)

	ops := gateway.Operations()
	require.Len(t, ops, 2, "original deposit credit, then reversal debit")
	assert.Equal(t, "acct-1", ops[1].AccountID)
	assert.True(t, ops[1].Delta.Equal(decimal.NewFromInt(-75)))
}

func TestReverseTwiceIsRejected(t *testing.T) {
	e, _, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-1", decimal.NewFromInt(0))

	deposit, err := e.Deposit(context.Background(), engine.DepositWithdrawRequest{
		AccountID: "acct-1",
		Amount:    decimal.NewFromInt(30),
		Caller:    "teller-1",
	})
	require.NoError(t, err)

	_, err = e.Reverse(context.Background(), engine.ReversalRequest{
		OriginalTransactionID: deposit.TransactionID,
		Reason:                "first reversal",
		Caller:                "teller-2",
	})
	require.NoError(t, err)

	_, err = e.Reverse(context.Background(), engine.ReversalRequest{
		OriginalTransactionID: deposit.TransactionID,
		Reason:                "second reversal",
		Caller:                "teller-3",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrAlreadyReversed)
}

func TestReverseUnknownTransactionNotFound(t *testing.T) {
	e, _, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-1", decimal.NewFromInt(0))

	_, err := e.Reverse(context.Background(), engine.ReversalRequest{
		OriginalTransactionID: "does-not-exist",
		Reason:                "n/a",
		Caller:                "teller-1",
	})
	require.Error(t, err)
	assert.Equal(t, apierrors.CodeNotFound, apierrors.CodeOf(err))
}

func TestReverseTransferSwapsLegs(t *testing.T) {
	e, store, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-a", decimal.NewFromInt(100))
	seedAccount(gateway, "acct-b", decimal.NewFromInt(0))

	transfer, err := e.Transfer(context.Background(), engine.TransferRequest{
		FromAccountID: "acct-a",
		ToAccountID:   "acct-b",
		Amount:        decimal.NewFromInt(60),
		Caller:        "teller-1",
	})
	require.NoError(t, err)

	reversal, err := e.Reverse(context.Background(), engine.ReversalRequest{
		OriginalTransactionID: transfer.TransactionID,
		Reason:                "wrong recipient",
		Caller:                "teller-2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, reversal.Status)
	assert.Equal(t, "acct-b", reversal.FromAccountID)
	assert.Equal(t, "acct-a", reversal.ToAccountID)

	original, err := store.FindByID(context.Background(), transfer.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, models.StatusReversed, original.Status)
}

func TestReverseIdempotentReplay(t *testing.T) {
	e, _, gateway := newTestEngine(t)
	seedAccount(gateway, "acct-1", decimal.NewFromInt(0))

	deposit, err := e.Deposit(context.Background(), engine.DepositWithdrawRequest{
		AccountID: "acct-1",
		Amount:    decimal.NewFromInt(20),
		Caller:    "teller-1",
	})
	require.NoError(t, err)

	req := engine.ReversalRequest{
		OriginalTransactionID: deposit.TransactionID,
		Reason:                "duplicate charge",
		Caller:                "teller-2",
		IdempotencyKey:        "rev-1",
	}

	first, err := e.Reverse(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Reverse(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)
}
