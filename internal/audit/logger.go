// Package audit provides the append-only audit trail consumed by the crisis,
// session and consent services. Every state transition in those services emits
// exactly one audit event. Security-relevant events (logins, terminations,
// consent changes, PHI access) are persisted synchronously before the calling
// operation reports success; everything else flows through a buffered batch
// pipeline.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/config"
)

// Event severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event categories
const (
	CategoryCrisis  = "crisis"
	CategorySession = "session"
	CategoryConsent = "consent"
	CategoryPHI     = "phi_access"
)

// Event represents a single audit trail entry
type Event struct {
	ID        string                 `json:"id" db:"id"`
	EventType string                 `json:"event_type" db:"event_type"`
	Category  string                 `json:"category" db:"category"`
	Action    string                 `json:"action" db:"action"`
	UserID    string                 `json:"user_id,omitempty" db:"user_id"`
	SessionID string                 `json:"session_id,omitempty" db:"session_id"`
	EntityID  string                 `json:"entity_id,omitempty" db:"entity_id"`
	Severity  string                 `json:"severity" db:"severity"`
	Details   map[string]interface{} `json:"details,omitempty" db:"-"`
	IPAddress string                 `json:"ip_address,omitempty" db:"ip_address"`
	Result    string                 `json:"result" db:"result"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
}

// EventStore persists audit events. Implementations must be append-only.
type EventStore interface {
	Insert(ctx context.Context, event *Event) error
	InsertBatch(ctx context.Context, events []*Event) error
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*Event, error)
}

// Logger is the audit interface consumed by the trust core services.
type Logger interface {
	// LogEvent enqueues an event for asynchronous persistence. The event may
	// be dropped if the pipeline is saturated; callers that cannot tolerate
	// loss must use LogSecurityEvent.
	LogEvent(ctx context.Context, event *Event) error
	// LogSecurityEvent persists the event before returning.
	LogSecurityEvent(ctx context.Context, event *Event) error
}

// Recorder is the production Logger implementation
type Recorder struct {
	config      config.AuditConfig
	logger      *zap.Logger
	store       EventStore
	kafkaWriter *kafka.Writer
	eventChan   chan *Event
	batchBuffer []*Event
	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewRecorder creates a new audit recorder. kafkaWriter may be nil when
// forwarding is disabled.
func NewRecorder(cfg config.AuditConfig, logger *zap.Logger, store EventStore, kafkaWriter *kafka.Writer) *Recorder {
	return &Recorder{
		config:      cfg,
		logger:      logger,
		store:       store,
		kafkaWriter: kafkaWriter,
		eventChan:   make(chan *Event, cfg.BufferSize),
		batchBuffer: make([]*Event, 0, cfg.BatchSize),
		stopChan:    make(chan struct{}),
	}
}

// NewKafkaWriter builds the audit topic writer from configuration
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
}

// Start starts the background flush loop
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("audit recorder is already running")
	}

	r.wg.Add(1)
	go r.flushLoop(ctx)

	r.running = true
	r.logger.Info("Audit recorder started",
		zap.Int("buffer_size", r.config.BufferSize),
		zap.Int("batch_size", r.config.BatchSize))
	return nil
}

// Stop drains and stops the recorder
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	if r.kafkaWriter != nil {
		if err := r.kafkaWriter.Close(); err != nil {
			r.logger.Error("Failed to close audit kafka writer", zap.Error(err))
		}
	}
	r.logger.Info("Audit recorder stopped")
}

// LogEvent enqueues an event for batch persistence
func (r *Recorder) LogEvent(ctx context.Context, event *Event) error {
	r.prepare(event)

	select {
	case r.eventChan <- event:
		return nil
	default:
		r.logger.Warn("Audit event channel full, dropping event",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.ID))
		return fmt.Errorf("audit event channel full")
	}
}

// LogSecurityEvent persists the event synchronously and then forwards it
func (r *Recorder) LogSecurityEvent(ctx context.Context, event *Event) error {
	r.prepare(event)

	if err := r.store.Insert(ctx, event); err != nil {
		r.logger.Error("Failed to persist security audit event",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return fmt.Errorf("failed to persist security audit event: %w", err)
	}

	r.forward(ctx, []*Event{event})
	return nil
}

func (r *Recorder) prepare(event *Event) {
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Result == "" {
		event.Result = "success"
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
}

func (r *Recorder) flushLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-r.eventChan:
			r.batchBuffer = append(r.batchBuffer, event)
			if len(r.batchBuffer) >= r.config.BatchSize {
				r.flushBatch(ctx)
			}
		case <-ticker.C:
			r.flushBatch(ctx)
		case <-r.stopChan:
			// Drain whatever is still queued before exiting
			for {
				select {
				case event := <-r.eventChan:
					r.batchBuffer = append(r.batchBuffer, event)
				default:
					r.flushBatch(context.Background())
					return
				}
			}
		case <-ctx.Done():
			r.flushBatch(context.Background())
			return
		}
	}
}

func (r *Recorder) flushBatch(ctx context.Context) {
	if len(r.batchBuffer) == 0 {
		return
	}

	batch := r.batchBuffer
	r.batchBuffer = make([]*Event, 0, r.config.BatchSize)

	if err := r.store.InsertBatch(ctx, batch); err != nil {
		r.logger.Error("Failed to flush audit batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return
	}

	r.forward(ctx, batch)
}

// forward publishes events to the audit topic, best effort
func (r *Recorder) forward(ctx context.Context, events []*Event) {
	if r.kafkaWriter == nil {
		return
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			r.logger.Error("Failed to marshal audit event", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(event.UserID),
			Value: payload,
		})
	}

	if len(messages) == 0 {
		return
	}
	if err := r.kafkaWriter.WriteMessages(ctx, messages...); err != nil {
		r.logger.Error("Failed to forward audit events", zap.Int("count", len(messages)), zap.Error(err))
	}
}

func generateEventID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is unrecoverable for ID generation
		panic(fmt.Sprintf("audit: failed to generate event id: %v", err))
	}
	return hex.EncodeToString(b)
}
