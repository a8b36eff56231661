package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coreledger/txcore/internal/config"
	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/models"
	"github.com/coreledger/txcore/internal/infrastructure/database/postgres"
)

// getTestRepository starts a disposable PostgreSQL testcontainer, applies
// the schema against it and returns a LedgerRepository wired to the live
// instance. The container and pool are torn down when the test completes.
func getTestRepository(t *testing.T) *postgres.LedgerRepository {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("txcore"),
		tcpostgres.WithUsername("txcore"),
		tcpostgres.WithPassword("txcore_test_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres testcontainer")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres testcontainer: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbCfg := config.DatabaseConfig{
		Host:              host,
		Port:              mappedPort.Int(),
		Database:          "txcore",
		User:              "txcore",
		Password:          "txcore_test_pass",
		SSLMode:           "disable",
		MaxOpenConns:      5,
		MaxIdleConns:      1,
		ConnMaxLifetime:   "30m",
		ConnMaxIdleTime:   "5m",
		HealthCheckPeriod: "1m",
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	require.NoError(t, err, "failed to build connection pool")
	t.Cleanup(pool.Close)

	repo := postgres.NewLedgerRepository(pool)
	require.NoError(t, repo.Bootstrap(ctx), "failed to apply schema")

	return repo
}

func newDeposit(id, toAccount string, amount decimal.Decimal, idempotencyKey *string) *models.Transaction {
	return &models.Transaction{
		TransactionID:  id,
		Kind:           models.KindDeposit,
		Status:         models.StatusProcessing,
		FromAccountID:  models.ExternalAccountID,
		ToAccountID:    toAccount,
		Amount:         amount,
		Currency:       "USD",
		CreatedBy:      "teller-1",
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestRepositoryInsertAndFindByID(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()

	txn := newDeposit("txn-insert-1", "acct-1", decimal.NewFromInt(50), nil)
	result, err := repo.Insert(ctx, txn)
	require.NoError(t, err)
	require.Nil(t, result.Violation)

	found, err := repo.FindByID(ctx, "txn-insert-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, models.StatusProcessing, found.Status)
	require.True(t, txn.Amount.Equal(found.Amount))
}

func TestRepositoryFindByIDMissingReturnsNil(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()

	found, err := repo.FindByID(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestRepositoryInsertRejectsDuplicateIdempotencyKey(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()

	key := "idem-key-1"
	first := newDeposit("txn-idem-1", "acct-1", decimal.NewFromInt(20), &key)
	result, err := repo.Insert(ctx, first)
	require.NoError(t, err)
	require.Nil(t, result.Violation)

	second := newDeposit("txn-idem-2", "acct-1", decimal.NewFromInt(20), &key)
	result, err = repo.Insert(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, result.Violation)
	require.Equal(t, ledger.ConstraintIdempotencyKey, result.Violation.Constraint)

	replay, err := repo.FindByIdempotentKey(ctx, "teller-1", models.KindDeposit, key)
	require.NoError(t, err)
	require.NotNil(t, replay)
	require.Equal(t, "txn-idem-1", replay.TransactionID)
}

func TestRepositoryInsertRejectsSecondActiveReversal(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()

	original := newDeposit("txn-rev-original", "acct-1", decimal.NewFromInt(40), nil)
	_, err := repo.Insert(ctx, original)
	require.NoError(t, err)

	firstReversal := &models.Transaction{
		TransactionID:         "txn-rev-1",
		Kind:                  models.KindReversal,
		Status:                models.StatusProcessing,
		FromAccountID:         "acct-1",
		ToAccountID:           models.ExternalAccountID,
		Amount:                decimal.NewFromInt(40),
		Currency:              "USD",
		CreatedBy:             "teller-1",
		OriginalTransactionID: &original.TransactionID,
		CreatedAt:             time.Now().UTC(),
	}
	result, err := repo.Insert(ctx, firstReversal)
	require.NoError(t, err)
	require.Nil(t, result.Violation)

	secondReversal := &models.Transaction{
		TransactionID:         "txn-rev-2",
		Kind:                  models.KindReversal,
		Status:                models.StatusProcessing,
		FromAccountID:         "acct-1",
		ToAccountID:           models.ExternalAccountID,
		Amount:                decimal.NewFromInt(40),
		Currency:              "USD",
		CreatedBy:             "teller-1",
		OriginalTransactionID: &original.TransactionID,
		CreatedAt:             time.Now().UTC(),
	}
	result, err = repo.Insert(ctx, secondReversal)
	require.NoError(t, err)
	require.NotNil(t, result.Violation)
	require.Equal(t, ledger.ConstraintReversalUnique, result.Violation.Constraint)
}

func TestRepositoryUpdateStatusTransitionsAndRejectsTerminalReentry(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()

	txn := newDeposit("txn-status-1", "acct-1", decimal.NewFromInt(30), nil)
	_, err := repo.Insert(ctx, txn)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, "txn-status-1", models.StatusCompleted, time.Now().UTC(), ""))

	found, err := repo.FindByID(ctx, "txn-status-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, found.Status)

	// COMPLETED -> REVERSED is the one transition legal out of a terminal
	// state, used by reversal finalization.
	require.NoError(t, repo.UpdateStatus(ctx, "txn-status-1", models.StatusReversed, time.Now().UTC(), ""))
	found, err = repo.FindByID(ctx, "txn-status-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusReversed, found.Status)

	// REVERSED is absorbing: nothing may leave it, not even back to FAILED.
	err = repo.UpdateStatus(ctx, "txn-status-1", models.StatusFailed, time.Now().UTC(), "late arrival")
	require.Error(t, err)
}

func TestRepositoryFindByIDWithLockInsideTransaction(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()

	txn := newDeposit("txn-lock-1", "acct-1", decimal.NewFromInt(15), nil)
	_, err := repo.Insert(ctx, txn)
	require.NoError(t, err)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)

	locked, err := repo.FindByIDWithLock(ctx, tx, "txn-lock-1")
	require.NoError(t, err)
	require.NotNil(t, locked)
	require.Equal(t, "txn-lock-1", locked.TransactionID)

	require.NoError(t, repo.UpdateStatusWithTx(ctx, tx, "txn-lock-1", models.StatusCompleted, time.Now().UTC(), ""))
	require.NoError(t, tx.Commit(ctx))

	found, err := repo.FindByID(ctx, "txn-lock-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, found.Status)
}

func TestRepositorySumAmountAndCountMatchEitherLeg(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Hour).UTC()

	// A deposit's subject account sits in to_account_id, not from_account_id.
	deposit := newDeposit("txn-sum-1", "acct-sum", decimal.NewFromInt(100), nil)
	_, err := repo.Insert(ctx, deposit)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, "txn-sum-1", models.StatusCompleted, time.Now().UTC(), ""))

	withdrawal := &models.Transaction{
		TransactionID: "txn-sum-2",
		Kind:          models.KindWithdrawal,
		Status:        models.StatusProcessing,
		FromAccountID: "acct-sum",
		ToAccountID:   models.ExternalAccountID,
		Amount:        decimal.NewFromInt(10),
		Currency:      "USD",
		CreatedBy:     "teller-1",
		CreatedAt:     time.Now().UTC(),
	}
	_, err = repo.Insert(ctx, withdrawal)
	require.NoError(t, err)

	sum, err := repo.SumAmount(ctx, "acct-sum", models.KindDeposit, since)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(100).Equal(sum), "deposit sum must count a COMPLETED credit even though acct-sum is the to_account_id")

	count, err := repo.Count(ctx, "acct-sum", models.KindDeposit, since)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// The withdrawal is still PROCESSING, so neither cap query should count it yet.
	withdrawCount, err := repo.Count(ctx, "acct-sum", models.KindWithdrawal, since)
	require.NoError(t, err)
	require.Equal(t, 0, withdrawCount)
}

func TestRepositorySearchFiltersAndPaginates(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		txn := newDeposit("txn-search-"+time.Now().Add(time.Duration(i)*time.Millisecond).Format("150405.000000000"), "acct-search", decimal.NewFromInt(int64(10*(i+1))), nil)
		_, err := repo.Insert(ctx, txn)
		require.NoError(t, err)
	}

	page, err := repo.Search(ctx, ledger.Filter{AccountID: "acct-search"}, ledger.Page{Limit: 2, Offset: 0})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Transactions, 2)

	page, err = repo.Search(ctx, ledger.Filter{AccountID: "acct-search"}, ledger.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Transactions, 1)
}

func TestRepositoryGetLimitReturnsNilWhenUnconfigured(t *testing.T) {
	repo := getTestRepository(t)
	ctx := context.Background()

	limit, err := repo.GetLimit(ctx, "CONSUMER", models.KindDeposit)
	require.NoError(t, err)
	require.Nil(t, limit)
}
