package audit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/txcore/internal/domain/audit"
	"github.com/coreledger/txcore/internal/domain/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingPublisher) Publish(event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) snapshot() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestSinkDeliversEventsToPublisher(t *testing.T) {
	pub := &recordingPublisher{}
	sink := audit.NewSink(pub, 16)
	defer sink.Close()

	sink.Emit(audit.Event{CorrelationID: "t-1", Kind: models.KindDeposit, Outcome: audit.OutcomeInitiated})
	sink.Emit(audit.Event{CorrelationID: "t-1", Kind: models.KindDeposit, Outcome: audit.OutcomeSuccess})

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSinkEvictsOldestNonTerminalWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	pub := &blockingPublisher{release: blocked}
	sink := audit.NewSink(pub, 2)
	defer func() {
		close(blocked)
		sink.Close()
	}()

	// capacity is 2; three INITIATED events means the oldest must be
	// evicted rather than blocking the Engine.
	sink.Emit(audit.Event{CorrelationID: "evicted", Outcome: audit.OutcomeInitiated, Amount: decimal.NewFromInt(1)})
	sink.Emit(audit.Event{CorrelationID: "kept-1", Outcome: audit.OutcomeInitiated, Amount: decimal.NewFromInt(2)})
	sink.Emit(audit.Event{CorrelationID: "kept-2", Outcome: audit.OutcomeInitiated, Amount: decimal.NewFromInt(3)})

	assert.Equal(t, 2, sink.Len())
}

// blockingPublisher never returns until release is closed, letting a test
// hold the sink's drain loop back: the loop takes at most one event off the
// buffer and then blocks in Publish, so Emit's eviction logic stays
// observable on what remains buffered.
type blockingPublisher struct {
	release chan struct{}
}

func (b *blockingPublisher) Publish(event audit.Event) error {
	<-b.release
	return nil
}

func TestMultiPublisherFansOutAndSurfacesLastError(t *testing.T) {
	first := &recordingPublisher{}
	second := &failingPublisher{}
	multi := audit.MultiPublisher{Delegates: []audit.Publisher{first, second}}

	err := multi.Publish(audit.Event{CorrelationID: "t-1"})
	require.Error(t, err)
	assert.Len(t, first.snapshot(), 1, "first delegate still receives the event despite the second failing")
}

type failingPublisher struct{}

func (failingPublisher) Publish(event audit.Event) error {
	return assert.AnError
}
