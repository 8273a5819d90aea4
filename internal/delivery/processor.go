package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/letterbox/internal/metrics"
	"github.com/foxzi/letterbox/internal/ratelimit"
	"github.com/jpillora/backoff"
)

// Sender delivers a single message
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// RateLimiter counts sends against the relay quota
type RateLimiter interface {
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
}

// ErrorChecker reports whether a delivery error is worth retrying
type ErrorChecker func(err error) bool

// Processor drains the outbox with a pool of workers
type Processor struct {
	queue           Queue
	sender          Sender
	workers         int
	maxRetries      int
	processInterval time.Duration
	backoff         *backoff.Backoff
	isTemporary     ErrorChecker
	limiter         RateLimiter
	logger          *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	ProcessInterval time.Duration
}

// NewProcessor creates a new outbox processor
func NewProcessor(q Queue, sender Sender, cfg ProcessorConfig, isTemp ErrorChecker, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = 10 * time.Second
	}
	if isTemp == nil {
		isTemp = IsTemporaryError
	}

	return &Processor{
		queue:           q,
		sender:          sender,
		workers:         cfg.Workers,
		maxRetries:      cfg.MaxRetries,
		processInterval: cfg.ProcessInterval,
		backoff: &backoff.Backoff{
			Min:    cfg.RetryInterval,
			Max:    time.Hour,
			Factor: 2,
		},
		isTemporary: isTemp,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// SetRateLimiter makes the processor hold back messages over quota
func (p *Processor) SetRateLimiter(l RateLimiter) {
	p.limiter = l
}

// Start starts the processor workers
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting outbox processor", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop stops the processor gracefully
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping outbox processor")
		close(p.stopCh)
		p.wg.Wait()
		p.logger.Info("outbox processor stopped")
	})
}

// worker is the main processing loop
func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.stopCh:
			logger.Debug("worker stopped by signal")
			return
		case <-ticker.C:
			// Drain everything that is ready before waiting for the next tick
			for p.processOne(ctx, logger) {
				select {
				case <-ctx.Done():
					return
				case <-p.stopCh:
					return
				default:
				}
			}
		}
	}
}

// processOne processes a single message and reports whether one was found
func (p *Processor) processOne(ctx context.Context, logger *slog.Logger) bool {
	msg, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue message", "error", err)
		return false
	}

	if msg == nil {
		return false
	}

	logger = logger.With("message_id", msg.ID)
	logger.Debug("processing message")

	if p.limiter != nil {
		result, err := p.limiter.Allow(ctx, &ratelimit.Request{Recipient: msg.To})
		if err != nil {
			logger.Error("rate limit check failed", "error", err)
		} else if !result.Allowed {
			p.holdBack(ctx, msg, result, logger)
			return false
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	err = p.sender.Send(sendCtx, msg)
	cancel()

	if err == nil {
		msg.Status = StatusDelivered
		msg.LastError = ""

		if err := p.queue.Update(ctx, msg); err != nil {
			logger.Error("failed to update message status", "error", err)
		}

		metrics.IncMessagesSent()
		logger.Info("message delivered", "to", msg.To, "newsletter_id", msg.NewsletterID)
		return true
	}

	logger.Warn("delivery failed", "error", err, "retry_count", msg.RetryCount)

	msg.RetryCount++
	msg.LastError = err.Error()

	if p.isTemporary(err) && msg.RetryCount < p.maxRetries {
		wait := p.calculateBackoff(msg.RetryCount)
		msg.Status = StatusDeferred
		msg.NextRetryAt = time.Now().Add(wait)

		metrics.IncMessagesDeferred()
		logger.Info("message deferred",
			"retry_count", msg.RetryCount,
			"next_retry_at", msg.NextRetryAt,
			"backoff", wait,
		)
	} else {
		msg.Status = StatusFailed

		errType := "permanent"
		if p.isTemporary(err) {
			errType = "max_retries"
		}
		metrics.IncMessagesFailed(errType)
		logger.Error("message failed permanently",
			"retry_count", msg.RetryCount,
			"max_retries", p.maxRetries,
		)
	}

	if err := p.queue.Update(ctx, msg); err != nil {
		logger.Error("failed to update message status", "error", err)
	}
	return true
}

// holdBack defers a message until its quota window reopens. The retry
// counter is left alone since nothing was attempted.
func (p *Processor) holdBack(ctx context.Context, msg *Message, result *ratelimit.Result, logger *slog.Logger) {
	msg.Status = StatusDeferred
	msg.NextRetryAt = time.Now().Add(result.RetryAfter)
	msg.LastError = fmt.Sprintf("rate limit exceeded: %s", result.DeniedKey)

	metrics.IncRateLimited(string(result.DeniedBy))
	logger.Info("message held by rate limit",
		"denied_by", result.DeniedBy,
		"next_retry_at", msg.NextRetryAt,
	)

	if err := p.queue.Update(ctx, msg); err != nil {
		logger.Error("failed to update message status", "error", err)
	}
}

// calculateBackoff returns retry_interval * 2^(retry_count-1), capped at an hour
func (p *Processor) calculateBackoff(retryCount int) time.Duration {
	return p.backoff.ForAttempt(float64(retryCount - 1))
}
