// Package account implements the Account Gateway: a typed, idempotent,
// circuit-breaker-protected client over the remote Account Service.
package account

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is a read-only view of a remote account.
type AccountSnapshot struct {
	AccountID       string
	Balance         decimal.Decimal
	AccountType     string
	Currency        string
	AvailableCredit decimal.Decimal
	Active          bool
}

// OpStatus mirrors the remote Account Service's balance-operation outcome.
type OpStatus string

const (
	OpApplied        OpStatus = "APPLIED"
	OpIdempotentReplay OpStatus = "IDEMPOTENT_REPLAY"
	OpRejected       OpStatus = "REJECTED"
)

// BalanceOpResponse is the result of applying a signed balance delta.
type BalanceOpResponse struct {
	AccountID   string
	OperationID string
	Applied     bool
	NewBalance  decimal.Decimal
	Version     int64
	Status      OpStatus
	ReasonCode  string
}

// Role identifies which leg of a multi-account operation an operation id
// belongs to; operation ids are built as "<transactionId>:<role>".
type Role string

const (
	RoleDebit      Role = "debit"
	RoleCredit     Role = "credit"
	RoleCompensate Role = "compensate"
)

// Gateway is the contract the Transaction Engine depends on. It never
// returns the remote's raw transport errors — every failure is mapped to
// one of the typed errors in internal/pkg/errors.
type Gateway interface {
	GetAccount(ctx context.Context, accountID string) (*AccountSnapshot, error)

	// ApplyBalanceOperation applies delta (signed; negative for debit,
	// positive for credit) idempotently under operationID. creditBalancing
	// permits the remote to skip overflow checks, used for credit legs.
	ApplyBalanceOperation(ctx context.Context, accountID, operationID string, delta decimal.Decimal, reason, label string, creditBalancing bool) (*BalanceOpResponse, error)
}

// OperationID builds the engine-constructed operation id
// "<transactionId>:<role>" so remote retries of the same leg collapse.
func OperationID(transactionID string, role Role) string {
	return transactionID + ":" + string(role)
}
