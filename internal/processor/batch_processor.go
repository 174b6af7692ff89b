package processor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"growthmap/server/config"
	"growthmap/server/internal/models"
	"growthmap/server/internal/queue"
)

// SaleSink persists batches of sale events.
type SaleSink interface {
	UpsertSales(ctx context.Context, sales []models.SaleEvent) error
}

// Invalidator drops derived data once new sales are stored.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// BatchRecorder receives ingestion metrics.
type BatchRecorder interface {
	RecordBatch(size int, err error)
	SetQueueDepth(n int)
}

// BatchProcessor handles the processing of sale batches
type BatchProcessor struct {
	sink        SaleSink
	invalidator Invalidator
	metrics     BatchRecorder
	logger      *logrus.Logger
	config      *config.Config
	queue       *queue.SaleQueue
	waitGroup   sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(sink SaleSink, queue *queue.SaleQueue, config *config.Config, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		sink:   sink,
		queue:  queue,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetInvalidator registers the cache to invalidate after each stored batch
func (p *BatchProcessor) SetInvalidator(inv Invalidator) {
	p.invalidator = inv
}

// SetMetrics registers the ingestion metrics
func (p *BatchProcessor) SetMetrics(m BatchRecorder) {
	p.metrics = m
}

// Start subscribes the processor to the queue and starts the queue workers
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(p.processBatch)
	p.queue.Start(p.config.BatchProcessing.ProcessorCount)
}

// Stop drains the queue and waits for in-flight batches. Every queued batch
// still gets its first write attempt; retry waits are abandoned.
func (p *BatchProcessor) Stop() {
	p.cancel()
	p.queue.Close()
	p.waitGroup.Wait()
}

// processBatch handles a single batch of sales with retry logic
func (p *BatchProcessor) processBatch(batch []models.SaleEvent) error {
	p.waitGroup.Add(1)
	defer p.waitGroup.Done()

	err := p.storeWithRetry(batch)
	if p.metrics != nil {
		p.metrics.RecordBatch(len(batch), err)
		p.metrics.SetQueueDepth(p.queue.Len())
	}
	if err != nil {
		return err
	}

	if p.invalidator != nil {
		if err := p.invalidator.Invalidate(context.Background()); err != nil {
			p.logger.WithError(err).Warn("Failed to invalidate aggregate cache")
		}
	}
	return nil
}

func (p *BatchProcessor) storeWithRetry(batch []models.SaleEvent) error {
	maxRetries := p.config.BatchProcessing.MaxRetries
	delay := time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.WithFields(logrus.Fields{
				"attempt":     attempt,
				"max_retries": maxRetries,
			}).Info("Retrying batch processing")

			select {
			case <-p.ctx.Done():
				return fmt.Errorf("batch processing cancelled: %w", err)
			case <-time.After(delay):
			}
		}

		err = p.sink.UpsertSales(context.Background(), batch)
		if err == nil {
			p.logger.WithField("batch_size", len(batch)).Info("Successfully processed sale batch")
			return nil
		}

		p.logger.WithError(err).Error("Batch processing failed")
	}

	return fmt.Errorf("failed to process batch after %d attempts: %w", maxRetries+1, err)
}
