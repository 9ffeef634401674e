package outbound

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/metrics"
	"github.com/cloud-shuttle/fieldsync/pkg/telemetry"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// ErrQueueFull is returned by Forward when the delivery queue is saturated
var ErrQueueFull = errors.New("outbound queue full")

// ErrStopped is returned by Forward after Stop
var ErrStopped = errors.New("forwarder stopped")

const (
	queueSize   = 1000
	historySize = 100
)

// Sender delivers one message synchronously
type Sender interface {
	Send(ctx context.Context, msg *types.OutboundMessage) (int, error)
}

// DeliveryResult is the outcome of one message delivery
type DeliveryResult struct {
	MessageID  string
	TaskID     string
	StatusCode int
	Success    bool
	Error      string
	DurationMS int64
	Timestamp  int64
}

// Forwarder queues messages and delivers them from a pool of workers
type Forwarder struct {
	sender  Sender
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.RWMutex
	stopped  bool
	delivery chan *types.OutboundMessage
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// Delivery history (circular buffer)
	history      []*DeliveryResult
	historyMutex sync.Mutex
	historyPos   int
}

// NewForwarder creates a forwarder. timeout bounds each delivery including retries.
func NewForwarder(sender Sender, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Forwarder{
		sender:   sender,
		timeout:  timeout,
		metrics:  m,
		logger:   logging.Component(logger, "outbound"),
		delivery: make(chan *types.OutboundMessage, queueSize),
		stopCh:   make(chan struct{}),
		history:  make([]*DeliveryResult, 0, historySize),
	}
}

// Start begins processing deliveries
func (f *Forwarder) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	f.logger.Info("starting outbound workers", "workers", workers)
	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
}

// Stop stops accepting messages, delivers what is queued and waits for the
// workers or the context
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	close(f.stopCh)
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("outbound workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forward queues a message without blocking
func (f *Forwarder) Forward(_ context.Context, msg *types.OutboundMessage) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		return ErrStopped
	}

	select {
	case f.delivery <- msg:
		return nil
	default:
		f.metrics.Delivery(false)
		f.logger.Warn("outbound queue full, dropping message", "message", msg.ID, "task", msg.TaskID)
		return ErrQueueFull
	}
}

func (f *Forwarder) worker() {
	defer f.wg.Done()

	for {
		select {
		case msg := <-f.delivery:
			f.deliver(msg)
		case <-f.stopCh:
			for {
				select {
				case msg := <-f.delivery:
					f.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) deliver(msg *types.OutboundMessage) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanOutboundDeliver, msg.TaskID, msg.EngineerID)
	defer span.End()

	code, err := f.sender.Send(ctx, msg)
	result := &DeliveryResult{
		MessageID:  msg.ID,
		TaskID:     msg.TaskID,
		StatusCode: code,
		Success:    err == nil,
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  start.Unix(),
	}
	if err != nil {
		result.Error = err.Error()
		telemetry.RecordError(span, err, telemetry.ErrorCategoryOutbound)
		f.logger.Error("outbound delivery failed", "message", msg.ID, "task", msg.TaskID, "status", code, "error", err)
	} else {
		f.logger.Info("outbound message delivered", "message", msg.ID, "task", msg.TaskID, "status", code, "duration_ms", result.DurationMS)
	}
	f.metrics.Delivery(result.Success)
	f.recordDelivery(result)
}

// History returns up to limit recent delivery results, oldest first
func (f *Forwarder) History(limit int) []*DeliveryResult {
	f.historyMutex.Lock()
	defer f.historyMutex.Unlock()

	n := len(f.history)
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	result := make([]*DeliveryResult, limit)
	start := (f.historyPos - limit + n) % n
	for i := 0; i < limit; i++ {
		result[i] = f.history[(start+i)%n]
	}
	return result
}

func (f *Forwarder) recordDelivery(result *DeliveryResult) {
	f.historyMutex.Lock()
	defer f.historyMutex.Unlock()

	if len(f.history) < historySize {
		f.history = append(f.history, result)
	} else {
		f.history[f.historyPos] = result
		f.historyPos = (f.historyPos + 1) % historySize
	}
}
