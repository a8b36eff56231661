package engine

import (
	"context"

	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/models"
	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
)

// Viewer identifies the caller making a query and whether they hold an
// elevated role that bypasses the createdBy == caller visibility check.
type Viewer struct {
	Caller   string
	Elevated bool
}

// GetByID returns a single transaction's projection, enforcing that the
// viewer created it unless elevated.
func (e *Engine) GetByID(ctx context.Context, viewer Viewer, transactionID string) (Projection, error) {
	txn, err := e.store.FindByID(ctx, transactionID)
	if err != nil {
		return Projection{}, apierrors.Wrap(apierrors.CodeInternal, "failed to look up transaction", err)
	}
	if txn == nil {
		return Projection{}, apierrors.ErrNotFound
	}
	if !viewer.Elevated && txn.CreatedBy != viewer.Caller {
		return Projection{}, apierrors.ErrNotFound
	}
	return toProjection(txn), nil
}

// Search runs a single parametric database query and scopes it to the
// viewer's own transactions unless elevated.
func (e *Engine) Search(ctx context.Context, viewer Viewer, filter ledger.Filter, page ledger.Page) ([]Projection, int, error) {
	if !viewer.Elevated {
		filter.CreatedBy = viewer.Caller
	}
	result, err := e.store.Search(ctx, filter, page)
	if err != nil {
		return nil, 0, apierrors.Wrap(apierrors.CodeInternal, "search failed", err)
	}
	return projectAll(result.Transactions), result.Total, nil
}

// GetByAccount lists transactions touching accountID, scoped to the
// viewer's own transactions unless elevated.
func (e *Engine) GetByAccount(ctx context.Context, viewer Viewer, accountID string, page ledger.Page) ([]Projection, int, error) {
	return e.Search(ctx, viewer, ledger.Filter{AccountID: accountID}, page)
}

// GetByCaller lists every transaction created by caller. An elevated viewer
// may request another caller's history; a non-elevated viewer may only
// request their own.
func (e *Engine) GetByCaller(ctx context.Context, viewer Viewer, caller string, page ledger.Page) ([]Projection, int, error) {
	if !viewer.Elevated && caller != viewer.Caller {
		return nil, 0, apierrors.ErrNotFound
	}
	result, err := e.store.Search(ctx, ledger.Filter{CreatedBy: caller}, page)
	if err != nil {
		return nil, 0, apierrors.Wrap(apierrors.CodeInternal, "search failed", err)
	}
	return projectAll(result.Transactions), result.Total, nil
}

func projectAll(txns []models.Transaction) []Projection {
	out := make([]Projection, len(txns))
	for i := range txns {
		out[i] = toProjection(&txns[i])
	}
	return out
}
