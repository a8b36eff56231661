// Package models holds the Ledger Store's core entities.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExternalAccountID is the reserved sentinel counter-party for deposits
// (source) and withdrawals (destination).
const ExternalAccountID = "EXTERNAL"

// TransactionKind enumerates the kinds of ledger entries the core produces.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "DEPOSIT"
	KindWithdrawal TransactionKind = "WITHDRAWAL"
	KindTransfer   TransactionKind = "TRANSFER"
	KindReversal   TransactionKind = "REVERSAL"
	KindFee        TransactionKind = "FEE"
	KindInterest   TransactionKind = "INTEREST"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransfer, KindReversal, KindFee, KindInterest:
		return true
	}
	return false
}

// TransactionStatus enumerates the lifecycle states of a Transaction. Every
// status other than PROCESSING is terminal; the only exit from a terminal
// state is COMPLETED -> REVERSED (see ledger.Transition).
type TransactionStatus string

const (
	StatusProcessing      TransactionStatus = "PROCESSING"
	StatusCompleted       TransactionStatus = "COMPLETED"
	StatusFailed          TransactionStatus = "FAILED"
	StatusManualAction    TransactionStatus = "FAILED_REQUIRES_MANUAL_ACTION"
	StatusReversed        TransactionStatus = "REVERSED"
)

// Terminal reports whether s is one of the absorbing end states.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusManualAction, StatusReversed:
		return true
	}
	return false
}

// Transaction is the central, immutable-once-terminal ledger entity.
type Transaction struct {
	TransactionID         string
	Kind                  TransactionKind
	Status                TransactionStatus
	FromAccountID         string
	ToAccountID           string
	Amount                decimal.Decimal
	Currency              string
	Description           string
	Reference             string
	CreatedBy             string
	IdempotencyKey        *string
	OriginalTransactionID *string
	FailureReason         string
	CreatedAt             time.Time
	ProcessedAt           *time.Time
}

// TransactionLimit is the cap configuration keyed by (AccountType, Kind).
type TransactionLimit struct {
	AccountType      string
	Kind             TransactionKind
	PerOperationCap  *decimal.Decimal
	DailyAmountCap   *decimal.Decimal
	MonthlyAmountCap *decimal.Decimal
	DailyCountCap    *int
	MonthlyCountCap  *int
	Active           bool
}
