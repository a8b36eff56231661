package limits_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/limits"
	"github.com/coreledger/txcore/internal/domain/models"
)

func TestEvaluateAllowsWhenNoLimitConfigured(t *testing.T) {
	store := ledger.NewFakeStore()
	e := limits.NewEvaluator(store, time.UTC)

	decision := e.Evaluate(context.Background(), "acct-1", "CONSUMER", models.KindDeposit, decimal.NewFromInt(1000))
	assert.True(t, decision.Allowed)
}

func TestEvaluateDeniesOverPerOperationCap(t *testing.T) {
	store := ledger.NewFakeStore()
	cap := decimal.NewFromInt(500)
	store.SeedLimit(models.TransactionLimit{AccountType: "CONSUMER", Kind: models.KindDeposit, PerOperationCap: &cap, Active: true})
	e := limits.NewEvaluator(store, time.UTC)

	decision := e.Evaluate(context.Background(), "acct-1", "CONSUMER", models.KindDeposit, decimal.NewFromInt(501))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "per-operation")
}

func TestEvaluateDeniesOverDailyAmountCap(t *testing.T) {
	store := ledger.NewFakeStore()
	dailyCap := decimal.NewFromInt(1000)
	store.SeedLimit(models.TransactionLimit{AccountType: "CONSUMER", Kind: models.KindDeposit, DailyAmountCap: &dailyCap, Active: true})

	seedCompletedDeposit(t, store, "acct-1", decimal.NewFromInt(800), time.Now())

	e := limits.NewEvaluator(store, time.UTC)
	decision := e.Evaluate(context.Background(), "acct-1", "CONSUMER", models.KindDeposit, decimal.NewFromInt(300))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "daily amount")
}

func TestEvaluateIgnoresPriorDayActivityForDailyCap(t *testing.T) {
	store := ledger.NewFakeStore()
	dailyCap := decimal.NewFromInt(1000)
	store.SeedLimit(models.TransactionLimit{AccountType: "CONSUMER", Kind: models.KindDeposit, DailyAmountCap: &dailyCap, Active: true})

	seedCompletedDeposit(t, store, "acct-1", decimal.NewFromInt(900), time.Now().AddDate(0, 0, -1))

	e := limits.NewEvaluator(store, time.UTC)
	decision := e.Evaluate(context.Background(), "acct-1", "CONSUMER", models.KindDeposit, decimal.NewFromInt(300))
	assert.True(t, decision.Allowed)
}

func TestEvaluateDeniesAtDailyCountCap(t *testing.T) {
	store := ledger.NewFakeStore()
	countCap := 2
	store.SeedLimit(models.TransactionLimit{AccountType: "CONSUMER", Kind: models.KindDeposit, DailyCountCap: &countCap, Active: true})

	seedCompletedDeposit(t, store, "acct-1", decimal.NewFromInt(10), time.Now())
	seedCompletedDeposit(t, store, "acct-1", decimal.NewFromInt(10), time.Now())

	e := limits.NewEvaluator(store, time.UTC)
	decision := e.Evaluate(context.Background(), "acct-1", "CONSUMER", models.KindDeposit, decimal.NewFromInt(10))
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "daily count")
}

func TestEvaluateInactiveLimitIsIgnored(t *testing.T) {
	store := ledger.NewFakeStore()
	cap := decimal.NewFromInt(1)
	store.SeedLimit(models.TransactionLimit{AccountType: "CONSUMER", Kind: models.KindDeposit, PerOperationCap: &cap, Active: false})
	e := limits.NewEvaluator(store, time.UTC)

	decision := e.Evaluate(context.Background(), "acct-1", "CONSUMER", models.KindDeposit, decimal.NewFromInt(1000))
	assert.True(t, decision.Allowed)
}

func seedCompletedDeposit(t *testing.T, store *ledger.FakeStore, accountID string, amount decimal.Decimal, createdAt time.Time) {
	t.Helper()
	txn := &models.Transaction{
		TransactionID: "seed-" + accountID + "-" + amount.String() + "-" + createdAt.String(),
		Kind:          models.KindDeposit,
		Status:        models.StatusProcessing,
		FromAccountID: models.ExternalAccountID,
		ToAccountID:   accountID,
		Amount:        amount,
		Currency:      "USD",
		CreatedBy:     "seed",
		CreatedAt:     createdAt,
	}
	result, err := store.Insert(context.Background(), txn)
	if err != nil || result.Violation != nil {
		t.Fatalf("failed to seed deposit: %v %v", err, result)
	}
	if err := store.UpdateStatus(context.Background(), txn.TransactionID, models.StatusCompleted, createdAt, ""); err != nil {
		t.Fatalf("failed to complete seeded deposit: %v", err)
	}
}
