package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/coreledger/txcore/internal/pkg/logging"
	"github.com/coreledger/txcore/internal/pkg/metrics"
)

// AsyncProducer wraps a fire-and-forget Sarama producer with error
// monitoring. It is used behind the Audit Sink, which already owns its own
// bounded buffer, so this producer optimizes for throughput over
// delivery guarantees on any single message.
type AsyncProducer struct {
	producer sarama.AsyncProducer
	config   *Config

	errorCount   atomic.Int64
	successCount atomic.Int64
	droppedCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewAsyncProducer creates a new high-throughput async Kafka producer.
func NewAsyncProducer(config *Config) (*AsyncProducer, error) {
	saramaConfig, err := config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	saramaConfig.Producer.Flush.Frequency = 10 * time.Millisecond

	producer, err := sarama.NewAsyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create async kafka producer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ap := &AsyncProducer{
		producer: producer,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}

	ap.wg.Add(1)
	go ap.monitorErrors()

	logging.Info("async kafka producer initialized", map[string]interface{}{
		"brokers":   config.Brokers,
		"client_id": config.ClientID,
	})

	return ap, nil
}

// PublishAsync enqueues value under key on topic without waiting for the
// broker ack. If the producer's internal queue is full for more than a
// short grace period, the message is dropped and counted.
func (ap *AsyncProducer) PublishAsync(topic, key string, value []byte) error {
	ap.mu.RLock()
	if ap.closed {
		ap.mu.RUnlock()
		ap.droppedCount.Add(1)
		return fmt.Errorf("producer is closed")
	}
	ap.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	select {
	case ap.producer.Input() <- msg:
		ap.successCount.Add(1)
		return nil
	case <-time.After(100 * time.Millisecond):
		ap.droppedCount.Add(1)
		metrics.RecordAuditEventDropped("kafka_queue_full")
		return fmt.Errorf("producer queue full - message dropped")
	case <-ap.ctx.Done():
		ap.droppedCount.Add(1)
		return fmt.Errorf("producer shutting down")
	}
}

func (ap *AsyncProducer) monitorErrors() {
	defer ap.wg.Done()
	for {
		select {
		case err := <-ap.producer.Errors():
			if err == nil {
				continue
			}
			ap.errorCount.Add(1)
			logging.Error("kafka producer error", err.Err, map[string]interface{}{
				"topic":       err.Msg.Topic,
				"error_count": ap.errorCount.Load(),
			})
			metrics.RecordAuditPublishError("kafka_broker_error")
		case <-ap.ctx.Done():
			return
		}
	}
}

func (ap *AsyncProducer) Close() error {
	ap.mu.Lock()
	if ap.closed {
		ap.mu.Unlock()
		return nil
	}
	ap.closed = true
	ap.mu.Unlock()

	ap.cancel()
	closeErr := ap.producer.Close()

	done := make(chan struct{})
	go func() {
		ap.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logging.Warn("async kafka producer shutdown timeout", nil)
	}

	return closeErr
}

func (ap *AsyncProducer) IsHealthy() bool {
	ap.mu.RLock()
	defer ap.mu.RUnlock()
	return !ap.closed
}
