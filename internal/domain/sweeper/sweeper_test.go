package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/txcore/internal/domain/audit"
	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/models"
)

func seedProcessing(t *testing.T, store *ledger.FakeStore, id string, createdAt time.Time) {
	t.Helper()
	txn := &models.Transaction{
		TransactionID: id,
		Kind:          models.KindDeposit,
		Status:        models.StatusProcessing,
		FromAccountID: models.ExternalAccountID,
		ToAccountID:   "acct-1",
		Amount:        decimal.NewFromInt(10),
		Currency:      "USD",
		CreatedBy:     "teller-1",
		CreatedAt:     createdAt,
	}
	result, err := store.Insert(context.Background(), txn)
	require.NoError(t, err)
	require.Nil(t, result.Violation)
}

func TestSweepFailsStuckProcessingTransactions(t *testing.T) {
	store := ledger.NewFakeStore()
	sink := audit.NewSink(audit.LoggingPublisher{}, 16)
	defer sink.Close()

	seedProcessing(t, store, "stuck-1", time.Now().Add(-time.Hour))
	seedProcessing(t, store, "fresh-1", time.Now())

	s := New(store, sink, 10*time.Minute)
	s.sweep(context.Background())

	stuck, err := store.FindByID(context.Background(), "stuck-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stuck.Status)
	assert.Equal(t, reasonStuckTimeout, stuck.FailureReason)

	fresh, err := store.FindByID(context.Background(), "fresh-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, fresh.Status, "transactions inside the cutoff window are left alone")
}

func TestSweepIsNoOpWhenNothingIsStuck(t *testing.T) {
	store := ledger.NewFakeStore()
	sink := audit.NewSink(audit.LoggingPublisher{}, 16)
	defer sink.Close()

	s := New(store, sink, 10*time.Minute)
	s.sweep(context.Background())

	pending, err := store.FindPendingOlderThan(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
