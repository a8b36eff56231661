// Package limits implements the Limit Evaluator: per-transaction, per-day
// and per-month caps on amount and count, evaluated against historical
// ledger aggregates and failing closed on any internal error.
package limits

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/models"
	"github.com/coreledger/txcore/internal/pkg/logging"
)

// Evaluator decides allow/deny for a prospective operation.
type Evaluator struct {
	store    ledger.Store
	location *time.Location
}

func NewEvaluator(store ledger.Store, location *time.Location) *Evaluator {
	if location == nil {
		location = time.UTC
	}
	return &Evaluator{store: store, location: location}
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision           { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Evaluate applies the limit policy from spec §4.2. On any internal store
// error it denies (fail-closed) rather than propagating the error, logging
// the failure at ERROR so the fail-closed deny is observable.
func (e *Evaluator) Evaluate(ctx context.Context, accountID, accountType string, kind models.TransactionKind, amount decimal.Decimal) Decision {
	limit, err := e.store.GetLimit(ctx, accountType, kind)
	if err != nil {
		logging.Error("limit evaluator: failed to load limit configuration", err, map[string]interface{}{
			"account_id": accountID, "account_type": accountType, "kind": kind,
		})
		return deny("internal error evaluating limits")
	}
	if limit == nil || !limit.Active {
		return allow()
	}

	if limit.PerOperationCap != nil && amount.GreaterThan(*limit.PerOperationCap) {
		return deny("amount exceeds per-operation cap")
	}

	now := time.Now().In(e.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.location)

	if limit.DailyAmountCap != nil {
		sum, err := e.store.SumAmount(ctx, accountID, kind, dayStart)
		if err != nil {
			logging.Error("limit evaluator: failed to read daily sum", err, map[string]interface{}{"account_id": accountID})
			return deny("internal error evaluating limits")
		}
		if sum.Add(amount).GreaterThan(*limit.DailyAmountCap) {
			return deny("amount exceeds daily amount cap")
		}
	}

	if limit.DailyCountCap != nil {
		count, err := e.store.Count(ctx, accountID, kind, dayStart)
		if err != nil {
			logging.Error("limit evaluator: failed to read daily count", err, map[string]interface{}{"account_id": accountID})
			return deny("internal error evaluating limits")
		}
		if count >= *limit.DailyCountCap {
			return deny("daily count cap reached")
		}
	}

	if limit.MonthlyAmountCap != nil {
		sum, err := e.store.SumAmount(ctx, accountID, kind, monthStart)
		if err != nil {
			logging.Error("limit evaluator: failed to read monthly sum", err, map[string]interface{}{"account_id": accountID})
			return deny("internal error evaluating limits")
		}
		if sum.Add(amount).GreaterThan(*limit.MonthlyAmountCap) {
			return deny("amount exceeds monthly amount cap")
		}
	}

	if limit.MonthlyCountCap != nil {
		count, err := e.store.Count(ctx, accountID, kind, monthStart)
		if err != nil {
			logging.Error("limit evaluator: failed to read monthly count", err, map[string]interface{}{"account_id": accountID})
			return deny("internal error evaluating limits")
		}
		if count >= *limit.MonthlyCountCap {
			return deny("monthly count cap reached")
		}
	}

	return allow()
}
