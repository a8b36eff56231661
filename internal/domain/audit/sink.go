// Package audit implements the Audit Sink: an append-only stream of
// transaction lifecycle events that must never block the Engine's critical
// path beyond a bounded buffer, and must never silently drop a terminal
// event.
package audit

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/models"
	"github.com/coreledger/txcore/internal/pkg/logging"
	"github.com/coreledger/txcore/internal/pkg/metrics"
)

// Outcome classifies an event for quick filtering by downstream consumers.
type Outcome string

const (
	OutcomeInitiated Outcome = "INITIATED"
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
)

// Event is the structured audit record emitted for every lifecycle
// transition named in the Transaction Engine's state machine.
type Event struct {
	Timestamp     time.Time
	CorrelationID string
	Caller        string
	Kind          models.TransactionKind
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Status        models.TransactionStatus
	Outcome       Outcome
	ReasonCode    string
}

// terminal reports whether the event represents a Transaction's final
// state, as opposed to an in-flight INITIATED marker.
func (e Event) terminal() bool {
	return e.Outcome != OutcomeInitiated
}

// Publisher is the one-way destination the Sink drains into. Implementors
// must not call back into the Engine (see spec design notes: "keep the
// Audit Sink one-way").
type Publisher interface {
	Publish(event Event) error
}

// Sink buffers events in a small ring buffer so a slow or unavailable
// Publisher never blocks the Transaction Engine. When the buffer is full,
// the oldest non-terminal event is evicted to make room; terminal events
// are never dropped, so when every buffered event is terminal the buffer
// grows past its capacity instead.
type Sink struct {
	publisher Publisher
	capacity  int

	mu     sync.Mutex
	buffer []Event
	notify chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewSink(publisher Publisher, capacity int) *Sink {
	if capacity <= 0 {
		capacity = 1024
	}
	s := &Sink{
		publisher: publisher,
		capacity:  capacity,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Emit enqueues event for asynchronous delivery. It never blocks on the
// Publisher; at worst it evicts one buffered non-terminal event.
func (s *Sink) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	if len(s.buffer) >= s.capacity {
		if evicted := s.evictOldestNonTerminal(); !evicted {
			logging.Warn("audit sink buffer full of terminal events; growing past capacity", map[string]interface{}{
				"capacity": s.capacity,
			})
			metrics.RecordAuditEventDropped("terminal_buffer_pressure")
		} else {
			metrics.RecordAuditEventDropped("non_terminal_evicted")
		}
	}
	s.buffer = append(s.buffer, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// evictOldestNonTerminal drops the oldest INITIATED event to make room.
// Must be called with s.mu held. Returns false if every buffered event is
// terminal, in which case the buffer is allowed to grow by one rather than
// lose a terminal record.
func (s *Sink) evictOldestNonTerminal() bool {
	for i, e := range s.buffer {
		if !e.terminal() {
			s.buffer = append(s.buffer[:i], s.buffer[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Sink) drain() {
	defer s.wg.Done()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.notify:
			s.flush()
		case <-ticker.C:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Sink) flush() {
	for {
		s.mu.Lock()
		if len(s.buffer) == 0 {
			s.mu.Unlock()
			return
		}
		event := s.buffer[0]
		s.buffer = s.buffer[1:]
		s.mu.Unlock()

		if err := s.publisher.Publish(event); err != nil {
			logging.Error("audit sink: failed to publish event", err, map[string]interface{}{
				"correlation_id": event.CorrelationID,
				"kind":           event.Kind,
				"status":         event.Status,
			})
			metrics.RecordAuditPublishError(string(event.Outcome))
		} else {
			metrics.RecordAuditEventPublished(string(event.Outcome))
		}
	}
}

// Len reports the number of events currently buffered, awaiting publish.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Close stops the background drain goroutine after flushing any remaining
// buffered events.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// LoggingPublisher is the always-on Publisher that writes every event
// through the structured logger, used standalone in tests and layered
// under the Kafka publisher in production.
type LoggingPublisher struct{}

func (LoggingPublisher) Publish(event Event) error {
	logging.Info("audit event", map[string]interface{}{
		"correlation_id":  event.CorrelationID,
		"caller":          event.Caller,
		"kind":            event.Kind,
		"from_account_id": event.FromAccountID,
		"to_account_id":   event.ToAccountID,
		"amount":          event.Amount.String(),
		"status":          event.Status,
		"outcome":         event.Outcome,
		"reason_code":     event.ReasonCode,
	})
	return nil
}

// MultiPublisher fans an event out to every delegate, continuing past
// individual failures and returning the last error seen (if any) so the
// Sink can still log it).
type MultiPublisher struct {
	Delegates []Publisher
}

func (m MultiPublisher) Publish(event Event) error {
	var lastErr error
	for _, d := range m.Delegates {
		if err := d.Publish(event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
