package account

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
)

// RecordedOperation captures one ApplyBalanceOperation call, used by tests
// to assert the exact debit/credit/compensate sequence the Engine issued.
type RecordedOperation struct {
	AccountID       string
	OperationID     string
	Delta           decimal.Decimal
	CreditBalancing bool
}

// FakeGateway is an in-memory Gateway for unit and non-Postgres
// integration tests. Operations are idempotent by OperationID the same way
// the real Account Service is documented to behave.
type FakeGateway struct {
	mu         sync.Mutex
	accounts   map[string]*AccountSnapshot
	applied    map[string]*BalanceOpResponse // keyed by operationID
	operations []RecordedOperation

	// FailOperationIDs lets tests force a specific operation id to fail
	// with ServiceUnavailable, simulating a remote outage.
	FailOperationIDs map[string]bool
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		accounts: make(map[string]*AccountSnapshot),
		applied:  make(map[string]*BalanceOpResponse),
	}
}

func (f *FakeGateway) Seed(snapshot AccountSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := snapshot
	f.accounts[snapshot.AccountID] = &s
}

func (f *FakeGateway) GetAccount(ctx context.Context, accountID string) (*AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[accountID]
	if !ok {
		return nil, apierrors.New(apierrors.CodeAccountNotFound, "account not found")
	}
	copy := *acc
	return &copy, nil
}

func (f *FakeGateway) Operations() []RecordedOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedOperation, len(f.operations))
	copy(out, f.operations)
	return out
}

func (f *FakeGateway) ApplyBalanceOperation(ctx context.Context, accountID, operationID string, delta decimal.Decimal, reason, label string, creditBalancing bool) (*BalanceOpResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.operations = append(f.operations, RecordedOperation{
		AccountID: accountID, OperationID: operationID, Delta: delta, CreditBalancing: creditBalancing,
	})

	if f.FailOperationIDs != nil && f.FailOperationIDs[operationID] {
		return nil, apierrors.New(apierrors.CodeServiceUnavailable, "simulated account service outage")
	}

	if existing, ok := f.applied[operationID]; ok {
		replay := *existing
		replay.Status = OpIdempotentReplay
		return &replay, nil
	}

	acc, ok := f.accounts[accountID]
	if !ok {
		return nil, apierrors.New(apierrors.CodeAccountNotFound, "account not found")
	}

	newBalance := acc.Balance.Add(delta)
	if !creditBalancing && newBalance.IsNegative() {
		return nil, apierrors.New(apierrors.CodeInsufficientFunds, "insufficient funds")
	}

	acc.Balance = newBalance
	resp := &BalanceOpResponse{
		AccountID:   accountID,
		OperationID: operationID,
		Applied:     true,
		NewBalance:  newBalance,
		Version:     int64(len(f.applied) + 1),
		Status:      OpApplied,
	}
	f.applied[operationID] = resp
	return resp, nil
}
