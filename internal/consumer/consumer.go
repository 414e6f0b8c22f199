// Package consumer drains the violation queue into the archive.
package consumer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"proctor-engine/internal/queue"
	"proctor-engine/internal/storage"
)

// Config holds the consumer configuration.
type Config struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		ShutdownWait: 30 * time.Second,
	}
}

// Consumer reads violations from the queue and hands them to the batch
// writer. Ordering within a batch does not matter; the archive orders by
// (session_id, event_index).
type Consumer struct {
	queue       *queue.RingBuffer
	batchWriter *storage.BatchWriter
	config      Config

	wg   sync.WaitGroup
	done chan struct{}

	consumed uint64
	errors   uint64
}

// New creates a new Consumer.
func New(q *queue.RingBuffer, bw *storage.BatchWriter, cfg Config) *Consumer {
	return &Consumer{
		queue:       q,
		batchWriter: bw,
		config:      cfg,
		done:        make(chan struct{}),
	}
}

// Start starts the consumer workers.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	slog.Info("violation consumer started", "workers", c.config.Workers)
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	slog.Debug("consumer worker started", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("consumer worker stopping (context)", "worker_id", id)
			return
		case <-c.done:
			slog.Debug("consumer worker stopping (done)", "worker_id", id)
			return
		default:
			item, err := c.queue.PopWithTimeout(c.config.PollInterval)
			if err != nil {
				if err == queue.ErrQueueEmpty {
					continue
				}
				if err == queue.ErrQueueClosed {
					return
				}
				slog.Warn("unexpected queue error", "worker_id", id, "error", err)
				atomic.AddUint64(&c.errors, 1)
				continue
			}

			if err := c.batchWriter.Write(item); err != nil {
				slog.Error("failed to archive violation",
					"worker_id", id,
					"session_id", item.SessionID,
					"event_index", item.Index,
					"error", err,
				)
				atomic.AddUint64(&c.errors, 1)
				continue
			}

			atomic.AddUint64(&c.consumed, 1)
		}
	}
}

// Stop stops the consumer gracefully, draining what it can and flushing
// the batch writer.
func (c *Consumer) Stop() {
	close(c.done)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("violation consumer stopped gracefully")
	case <-time.After(c.config.ShutdownWait):
		slog.Warn("violation consumer shutdown timed out")
	}

	// Workers have stopped; pull anything still queued into the writer
	// before the final flush.
	for {
		item, err := c.queue.Pop()
		if err != nil {
			break
		}
		if err := c.batchWriter.Write(item); err != nil {
			slog.Error("failed to archive queued violation", "error", err)
			atomic.AddUint64(&c.errors, 1)
		}
	}

	if err := c.batchWriter.Flush(); err != nil {
		slog.Error("final flush failed", "error", err)
	}
}

// Metrics returns consumer statistics.
func (c *Consumer) Metrics() Metrics {
	return Metrics{
		Consumed: atomic.LoadUint64(&c.consumed),
		Errors:   atomic.LoadUint64(&c.errors),
	}
}

// Metrics holds consumer statistics.
type Metrics struct {
	Consumed uint64 `json:"consumed"`
	Errors   uint64 `json:"errors"`
}
