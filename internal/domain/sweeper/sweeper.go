// Package sweeper implements the Scheduled Sweeper: a background cron task
// that fails transactions stuck in PROCESSING beyond a configurable cutoff,
// guarding against engine crashes between the PROCESSING insert and the
// terminal status update.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coreledger/txcore/internal/domain/audit"
	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/models"
	"github.com/coreledger/txcore/internal/pkg/logging"
	"github.com/coreledger/txcore/internal/pkg/metrics"
)

const reasonStuckTimeout = "STUCK_TIMEOUT"

// Sweeper periodically sweeps PROCESSING rows older than Cutoff into FAILED.
type Sweeper struct {
	store  ledger.Store
	sink   *audit.Sink
	cutoff time.Duration
	cron   *cron.Cron
}

func New(store ledger.Store, sink *audit.Sink, cutoff time.Duration) *Sweeper {
	return &Sweeper{
		store:  store,
		sink:   sink,
		cutoff: cutoff,
		cron:   cron.New(),
	}
}

// Start schedules the sweep on schedule (standard five-field cron syntax)
// and begins running it in the background.
func (s *Sweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logging.Info("scheduled sweeper started", map[string]interface{}{"schedule": schedule, "cutoff": s.cutoff.String()})
	return nil
}

// Stop halts future runs, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logging.Info("scheduled sweeper stopped", nil)
}

// sweep is also exposed indirectly by Start's scheduled callback and is
// exercised directly in tests without waiting on the cron clock.
func (s *Sweeper) sweep(ctx context.Context) {
	cutoffTime := time.Now().UTC().Add(-s.cutoff)
	pending, err := s.store.FindPendingOlderThan(ctx, cutoffTime)
	if err != nil {
		logging.Error("sweeper: failed to list pending transactions", err, nil)
		metrics.RecordSweeperRun("error")
		return
	}

	now := time.Now().UTC()
	for i := range pending {
		txn := &pending[i]
		if err := s.store.UpdateStatus(ctx, txn.TransactionID, models.StatusFailed, now, reasonStuckTimeout); err != nil {
			logging.Error("sweeper: failed to fail stuck transaction", err, map[string]interface{}{
				"transaction_id": txn.TransactionID,
			})
			continue
		}
		s.sink.Emit(audit.Event{
			CorrelationID: txn.TransactionID,
			Caller:        txn.CreatedBy,
			Kind:          txn.Kind,
			FromAccountID: txn.FromAccountID,
			ToAccountID:   txn.ToAccountID,
			Amount:        txn.Amount,
			Status:        models.StatusFailed,
			Outcome:       audit.OutcomeFailure,
			ReasonCode:    reasonStuckTimeout,
		})
	}

	metrics.RecordSweeperRun("success")
	metrics.RecordSweeperResolution("stuck_timeout", len(pending))
	if len(pending) > 0 {
		logging.Info("sweeper: swept stuck transactions", map[string]interface{}{"count": len(pending)})
	}
}
