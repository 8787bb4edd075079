// Package events carries identity events over Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
)

// DefaultTopic receives every identity event
const DefaultTopic = "tenant-identity-events"

// ErrQueueFull is returned by Publish when the workers cannot keep up
var ErrQueueFull = errors.New("identity event queue full, event dropped")

// ErrProducerClosed is returned by Publish after Close
var ErrProducerClosed = errors.New("identity event producer closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerConfig configures a Producer
type ProducerConfig struct {
	Broker    string
	Topic     string
	Workers   int
	QueueSize int
}

// Producer publishes identity events asynchronously through a pool of workers. Each
// tenant is pinned to one worker so its events are written in publish order.
type Producer struct {
	writer       messageWriter
	topic        string
	queues       []chan identity.Event
	workerCount  int
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	logger       logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
}

// NewProducer creates a producer writing to cfg.Broker and starts its workers
func NewProducer(cfg ProducerConfig, logger logrus.FieldLogger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Broker),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}
	return newProducer(writer, cfg, logger)
}

func newProducer(writer messageWriter, cfg ProducerConfig, logger logrus.FieldLogger) *Producer {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	perWorker := cfg.QueueSize / cfg.Workers
	if perWorker < 1 {
		perWorker = 1
	}

	p := &Producer{
		writer:       writer,
		topic:        cfg.Topic,
		queues:       make([]chan identity.Event, cfg.Workers),
		workerCount:  cfg.Workers,
		shutdownChan: make(chan struct{}),
		logger:       logger.WithField("component", "event_producer"),
	}
	for i := range p.queues {
		p.queues[i] = make(chan identity.Event, perWorker)
	}
	p.startWorkers()
	return p
}

func (p *Producer) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Infof("Started %d event workers on topic %s", p.workerCount, p.topic)
}

func (p *Producer) worker(id int) {
	defer p.wg.Done()
	queue := p.queues[id]

	for {
		select {
		case event := <-queue:
			p.send(id, event)
		case <-p.shutdownChan:
			// flush what is already queued
			for {
				select {
				case event := <-queue:
					p.send(id, event)
				default:
					return
				}
			}
		}
	}
}

func (p *Producer) send(worker int, event identity.Event) {
	if err := p.sendSync(event); err != nil {
		p.logger.WithFields(logrus.Fields{
			"worker":     worker,
			"event_type": event.Type,
			"tenant_id":  event.TenantID,
			"error":      err,
		}).Error("Failed to send identity event")
	}
}

// Publish queues event without blocking. It satisfies identity.Publisher.
func (p *Producer) Publish(_ context.Context, event identity.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	select {
	case p.queues[p.shard(event)] <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Producer) shard(event identity.Event) int {
	h := fnv.New32a()
	_, _ = h.Write(event.TenantID[:])
	return int(h.Sum32() % uint32(p.workerCount))
}

func (p *Producer) sendSync(event identity.Event) error {
	msg, err := EncodeEvent(p.topic, event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write identity event to Kafka: %w", err)
	}
	return nil
}

// EncodeEvent builds the Kafka message for event, keyed by tenant so one tenant's events
// stay ordered within a partition.
func EncodeEvent(topic string, event identity.Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal identity event: %w", err)
	}
	tenant := []byte(event.TenantID.String())
	return kafka.Message{
		Topic: topic,
		Key:   tenant,
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "tenant_id", Value: tenant},
		},
	}, nil
}

// Close flushes queued events, stops the workers and closes the writer
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.shutdownChan)
	p.wg.Wait()

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	p.logger.Info("Event producer shut down")
	return nil
}
