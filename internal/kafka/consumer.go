package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"proctor-engine/internal/event"
	"proctor-engine/internal/monitor"
	"proctor-engine/internal/session"
)

// detectorReport is the wire format detectors publish on the detector
// topic. Severity is optional; when absent the type mapping applies.
type detectorReport struct {
	SessionID   string  `json:"session_id"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	Severity    string  `json:"severity,omitempty"`
	EvidenceRef string  `json:"evidence_ref,omitempty"`
}

// DetectorConsumer reads detector reports from the bus and appends them
// to their sessions.
type DetectorConsumer struct {
	reader  *kafka.Reader
	config  *Config
	manager *monitor.Manager
	logger  *slog.Logger
	metrics *consumerMetrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	started atomic.Bool
}

type consumerMetrics struct {
	messagesConsumed atomic.Int64
	bytesConsumed    atomic.Int64
	errors           atomic.Int64
	skipped          atomic.Int64
	lastOffset       atomic.Int64
	lastError        atomic.Value
	lastErrorTime    atomic.Value
}

// NewDetectorConsumer creates a consumer for the configured detector topic.
func NewDetectorConsumer(config *Config, manager *monitor.Manager, logger *slog.Logger) (*DetectorConsumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.DetectorTopic == "" {
		return nil, fmt.Errorf("kafka: detector topic is required")
	}
	if manager == nil {
		return nil, errors.New("kafka: session manager is required")
	}

	dialer, err := config.GetDialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           config.Brokers,
		GroupID:           config.ConsumerGroup,
		Topic:             config.DetectorTopic,
		Dialer:            dialer,
		MinBytes:          config.ConsumerMinBytes,
		MaxBytes:          config.ConsumerMaxBytes,
		MaxWait:           config.ConsumerMaxWait,
		CommitInterval:    config.CommitInterval,
		StartOffset:       config.StartOffset,
		HeartbeatInterval: config.HeartbeatInterval,
		SessionTimeout:    config.SessionTimeout,
		RebalanceTimeout:  config.RebalanceTimeout,
		ReadBackoffMin:    100 * time.Millisecond,
		ReadBackoffMax:    time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())

	c := &DetectorConsumer{
		reader:  reader,
		config:  config,
		manager: manager,
		logger:  logger,
		metrics: &consumerMetrics{},
		ctx:     ctx,
		cancel:  cancel,
	}

	logger.Info("kafka detector consumer initialized",
		"brokers", config.Brokers,
		"topic", config.DetectorTopic,
		"group", config.ConsumerGroup,
	)

	return c, nil
}

// StartAsync begins consuming detector reports in a goroutine.
func (c *DetectorConsumer) StartAsync() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("consumer loop exited with error", "error", err)
		}
	}()

	c.logger.Info("kafka detector consumer started",
		"topic", c.config.DetectorTopic,
		"group", c.config.ConsumerGroup,
	)

	return nil
}

func (c *DetectorConsumer) consumeLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		kafkaMsg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			c.metrics.errors.Add(1)
			c.metrics.lastError.Store(err)
			c.metrics.lastErrorTime.Store(time.Now())

			c.logger.Error("failed to fetch message",
				"error", err,
				"topic", c.config.DetectorTopic,
			)

			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		if err := c.processReport(kafkaMsg.Value); err != nil {
			// Malformed reports and reports for missing or ended
			// sessions cannot succeed on retry. Log, count, commit.
			c.metrics.skipped.Add(1)
			c.logger.Warn("detector report dropped",
				"error", err,
				"partition", kafkaMsg.Partition,
				"offset", kafkaMsg.Offset,
			)
		} else {
			c.metrics.messagesConsumed.Add(1)
			c.metrics.bytesConsumed.Add(int64(len(kafkaMsg.Value) + len(kafkaMsg.Key)))
		}

		if err := c.reader.CommitMessages(c.ctx, kafkaMsg); err != nil {
			c.logger.Error("failed to commit offset",
				"error", err,
				"offset", kafkaMsg.Offset,
			)
		}

		c.metrics.lastOffset.Store(kafkaMsg.Offset)
	}
}

// processReport decodes one detector report and appends it to its session.
func (c *DetectorConsumer) processReport(value []byte) error {
	var report detectorReport
	if err := json.Unmarshal(value, &report); err != nil {
		return fmt.Errorf("invalid detector report: %w", err)
	}

	id, err := uuid.Parse(report.SessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", report.SessionID, err)
	}

	var ev event.Event
	if report.Severity != "" {
		ev, err = event.NewWithSeverity(
			event.Type(report.Type),
			report.Confidence,
			report.Description,
			event.Severity(report.Severity),
		)
	} else {
		ev, err = event.New(event.Type(report.Type), report.Confidence, report.Description)
	}
	if err != nil {
		return err
	}
	ev.EvidenceRef = report.EvidenceRef

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	if _, err := c.manager.AddEvent(ctx, id, ev); err != nil {
		if session.IsNotFound(err) || errors.Is(err, session.ErrNotActive) {
			return err
		}
		c.metrics.errors.Add(1)
		return err
	}

	return nil
}

// GetMetrics returns current consumer counters.
func (c *DetectorConsumer) GetMetrics() Metrics {
	m := Metrics{
		MessagesConsumed: c.metrics.messagesConsumed.Load(),
		BytesConsumed:    c.metrics.bytesConsumed.Load(),
		Errors:           c.metrics.errors.Load(),
	}

	if err := c.metrics.lastError.Load(); err != nil {
		m.LastError = err.(error)
	}
	if t := c.metrics.lastErrorTime.Load(); t != nil {
		m.LastErrorTime = t.(time.Time)
	}

	return m
}

// Stats returns internal reader statistics.
func (c *DetectorConsumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// Stop stops the consumer and waits for the loop to exit.
func (c *DetectorConsumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close reader: %w", err)
	}

	c.logger.Info("kafka detector consumer stopped",
		"messages_consumed", c.metrics.messagesConsumed.Load(),
		"dropped", c.metrics.skipped.Load(),
	)

	return nil
}
