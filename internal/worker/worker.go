// Package worker runs queued analysis jobs from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Processor runs one analysis job. *analysis.Service satisfies it.
type Processor interface {
	Process(ctx context.Context, job domain.AnalysisJob) (*domain.FileResult, error)
}

// Worker consumes analysis requests from the EventBus. Completion events
// are published by the processor.
type Worker struct {
	bus       domain.EventBus
	processor Processor
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, processor Processor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		processor: processor,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to analysis requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAnalysisRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicAnalysisRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("analysis worker started",
		"topic", domain.TopicAnalysisRequested,
	)
	return nil
}

// handleMessage decodes and runs one job.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	var job domain.AnalysisJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		w.logger.Error("failed to parse analysis job",
			"message_id", msg.ID,
			"error", err,
		)
		w.record(false)
		return err
	}
	if job.JobID == "" {
		job.JobID = msg.ID
	}

	w.logger.Debug("processing analysis job",
		"job_id", job.JobID,
		"file", job.FileName,
	)

	res, err := w.processor.Process(ctx, job)
	if err != nil {
		w.record(false)
		return fmt.Errorf("job %s: %w", job.JobID, err)
	}
	w.record(true)

	w.logger.Info("analysis job processed",
		"job_id", job.JobID,
		"file", job.FileName,
		"rings", res.Report.Summary.FraudRingsDetected,
		"cached", res.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed++
	} else {
		w.failed++
	}
}

// Stop unsubscribes and waits for the job in flight.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	w.logger.Info("analysis worker stopped")
	return nil
}

// Stats holds worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
