// Package dispatch owns the campaign send pipeline. A run flips the campaign
// to sending, walks the recipient ledger in order, hands each message to the
// mail transport and settles the final campaign status. A distributed lock
// keeps it to one active run per campaign across processes.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/domain"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/mailer"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/metrics"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/pkg/distlock"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/pkg/logger"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/tracking"
)

const (
	defaultDeliverTimeout = 30 * time.Second
	defaultLockTTL        = 10 * time.Minute

	// How many recipients between lock TTL extensions.
	lockExtendEvery = 20

	// Upper bound on interrupted campaigns picked up at startup.
	resumeBatch = 100
)

// extender is satisfied by lock backends that can push out their TTL.
type extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Config holds dispatch engine settings.
type Config struct {
	// TrackingBaseURL is where open pixels and click redirects point.
	// Leave empty to send bodies untouched.
	TrackingBaseURL string
	// DeliverTimeout bounds a single transport delivery.
	DeliverTimeout time.Duration
	// LockTTL is how long a dispatch lock lives without extension.
	LockTTL time.Duration
}

// Engine runs campaign dispatches. Runs started through Dispatch are
// detached from the caller and owned by the engine until Stop.
type Engine struct {
	repo      campaign.Repository
	transport mailer.Transport
	redis     *redis.Client
	db        *sql.DB
	links     *tracking.Links

	deliverTimeout time.Duration
	lockTTL        time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatch engine. redisClient and db select the lock backend
// and both may be nil; the lock then degrades to a process-local one.
func New(repo campaign.Repository, transport mailer.Transport, redisClient *redis.Client, db *sql.DB, cfg Config) *Engine {
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = defaultDeliverTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		repo:           repo,
		transport:      transport,
		redis:          redisClient,
		db:             db,
		deliverTimeout: cfg.DeliverTimeout,
		lockTTL:        cfg.LockTTL,
		ctx:            ctx,
		cancel:         cancel,
	}
	if cfg.TrackingBaseURL != "" {
		e.links = tracking.NewLinks(cfg.TrackingBaseURL)
	}
	return e
}

// Dispatch starts a campaign run. The status flip to sending happens before
// it returns; delivery continues in the background. A campaign already being
// worked on returns campaign.ErrDispatchInProgress, one in a terminal state
// campaign.ErrNotSendable.
func (e *Engine) Dispatch(ctx context.Context, campaignID string) error {
	lock, err := e.begin(ctx, campaignID)
	if err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.process(e.ctx, campaignID, lock)
	}()
	return nil
}

// Run dispatches a campaign and waits for the run to finish. Startup uses it
// to resume campaigns a previous process left in sending; the HTTP path goes
// through Dispatch instead.
func (e *Engine) Run(ctx context.Context, campaignID string) error {
	lock, err := e.begin(ctx, campaignID)
	if err != nil {
		return err
	}
	e.process(ctx, campaignID, lock)
	return nil
}

// ResumeInterrupted dispatches every campaign still marked sending. Called
// once at startup, after a crash or redeploy.
func (e *Engine) ResumeInterrupted(ctx context.Context) error {
	list, _, err := e.repo.List(ctx, campaign.ListFilter{Status: domain.CampaignSending, Limit: resumeBatch})
	if err != nil {
		return fmt.Errorf("list sending campaigns: %w", err)
	}

	for _, c := range list {
		if err := e.Dispatch(ctx, c.ID); err != nil {
			if errors.Is(err, campaign.ErrDispatchInProgress) {
				continue
			}
			logger.Warn("resume dispatch failed", "campaign_id", c.ID, "error", err.Error())
			continue
		}
		logger.Info("resuming interrupted campaign", "campaign_id", c.ID)
	}
	return nil
}

// Stop cancels running dispatches and waits for them to wind down. In-flight
// campaigns stay in sending and resume on the next start.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

// begin acquires the campaign lock and flips the status to sending. Both a
// fresh draft and a half-finished sending campaign are accepted; anything
// else is not sendable.
func (e *Engine) begin(ctx context.Context, campaignID string) (distlock.DistLock, error) {
	lock := distlock.NewLock(e.redis, e.db, "campaign:"+campaignID, e.lockTTL)

	acquired, err := lock.Acquire(ctx)
	if err != nil {
		// Lock backend trouble does not block sending. The guarded status
		// flip below still refuses anything but draft or sending.
		logger.Warn("dispatch lock acquire failed", "campaign_id", campaignID, "error", err.Error())
		lock = nil
	} else if !acquired {
		return nil, campaign.ErrDispatchInProgress
	}

	err = e.repo.UpdateStatus(ctx, campaignID, domain.CampaignSending,
		domain.CampaignDraft, domain.CampaignSending)
	if err != nil {
		if lock != nil {
			lock.Release(ctx)
		}
		if errors.Is(err, campaign.ErrInvalidTransition) {
			return nil, campaign.ErrNotSendable
		}
		return nil, err
	}
	return lock, nil
}

// process walks the pending ledger entries in order and finalizes the
// campaign. Cancellation leaves the campaign in sending with its remaining
// recipients pending, ready for the next run to pick up.
func (e *Engine) process(ctx context.Context, campaignID string, lock distlock.DistLock) {
	started := time.Now()
	metrics.IncDispatchActive()
	defer metrics.DecDispatchActive()

	defer func() {
		if lock != nil {
			// The run context may already be cancelled on shutdown; release
			// on a fresh one so the lock never outlives the run.
			rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rcancel()
			lock.Release(rctx)
		}
	}()

	c, err := e.repo.Get(ctx, campaignID)
	if err != nil {
		logger.Error("dispatch load campaign failed", "campaign_id", campaignID, "error", err.Error())
		metrics.ObserveDispatchRun("error", time.Since(started).Seconds())
		return
	}

	pending, err := e.repo.ListRecipients(ctx, campaignID, domain.RecipientPending)
	if err != nil {
		logger.Error("dispatch load recipients failed", "campaign_id", campaignID, "error", err.Error())
		metrics.ObserveDispatchRun("error", time.Since(started).Seconds())
		return
	}

	logger.Info("campaign dispatch started",
		"campaign_id", campaignID,
		"pending", len(pending),
		"transport", e.transport.Name())

	delivered, failed := 0, 0
	for i, rec := range pending {
		if ctx.Err() != nil {
			logger.Warn("campaign dispatch interrupted",
				"campaign_id", campaignID,
				"remaining", len(pending)-i)
			metrics.ObserveDispatchRun("interrupted", time.Since(started).Seconds())
			return
		}

		if e.deliver(ctx, c, rec) {
			delivered++
		} else {
			failed++
		}

		if lock != nil && (i+1)%lockExtendEvery == 0 {
			if ext, ok := lock.(extender); ok {
				if err := ext.Extend(ctx, e.lockTTL); err != nil {
					logger.Warn("dispatch lock extend failed", "campaign_id", campaignID, "error", err.Error())
				}
			}
		}
	}

	if ctx.Err() != nil {
		logger.Warn("campaign dispatch interrupted", "campaign_id", campaignID, "remaining", 0)
		metrics.ObserveDispatchRun("interrupted", time.Since(started).Seconds())
		return
	}

	final, err := e.finalize(ctx, campaignID)
	if err != nil {
		logger.Error("dispatch finalize failed", "campaign_id", campaignID, "error", err.Error())
		metrics.ObserveDispatchRun("error", time.Since(started).Seconds())
		return
	}

	logger.Info("campaign dispatch finished",
		"campaign_id", campaignID,
		"status", string(final),
		"delivered", delivered,
		"failed", failed,
		"duration_ms", time.Since(started).Milliseconds())
	metrics.ObserveDispatchRun(string(final), time.Since(started).Seconds())
}

// deliver sends one message and records the outcome in the ledger. A
// transport error fails only this recipient; the run moves on.
func (e *Engine) deliver(ctx context.Context, c *domain.Campaign, rec domain.Recipient) bool {
	body := c.Body
	if e.links != nil {
		body = e.links.InjectTracking(body, c.ID, rec.ID)
	}

	msg := mailer.Message{
		To:          rec.Email,
		ToName:      rec.Name,
		Subject:     c.Subject,
		HTMLBody:    body,
		CampaignID:  c.ID,
		RecipientID: rec.ID,
	}

	dctx, dcancel := context.WithTimeout(ctx, e.deliverTimeout)
	err := e.transport.Deliver(dctx, msg)
	dcancel()

	// Ledger writes get their own context. A shutdown that cancels the run
	// must not lose the record of a message that already went out.
	wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer wcancel()

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight. The recipient stays pending and the
			// next run retries it.
			return false
		}

		metrics.IncEmailFailed(e.transport.Name())
		if _, merr := e.repo.MarkFailed(wctx, c.ID, rec.ID, truncateReason(err.Error())); merr != nil {
			logger.Error("dispatch ledger update failed",
				"campaign_id", c.ID, "recipient_id", rec.ID, "state", "failed", "error", merr.Error())
		}
		logger.Warn("delivery failed",
			"campaign_id", c.ID,
			"recipient_id", rec.ID,
			"to", rec.Email,
			"error", err.Error())
		return false
	}

	metrics.IncEmailSent(e.transport.Name())
	if _, merr := e.repo.MarkSent(wctx, c.ID, rec.ID, time.Now().UTC()); merr != nil {
		logger.Error("dispatch ledger update failed",
			"campaign_id", c.ID, "recipient_id", rec.ID, "state", "sent", "error", merr.Error())
	}
	logger.Debug("delivered", "campaign_id", c.ID, "recipient_id", rec.ID, "to", rec.Email)
	return true
}

// finalize recomputes the campaign's stats and settles its terminal status.
// Only a campaign whose every recipient failed ends up failed; zero
// recipients means there was nothing to do, which counts as sent.
func (e *Engine) finalize(ctx context.Context, campaignID string) (domain.CampaignStatus, error) {
	stats, err := e.repo.RecomputeStats(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("recompute stats: %w", err)
	}

	final := domain.CampaignSent
	if stats.TotalRecipients > 0 && stats.FailedCount == stats.TotalRecipients {
		final = domain.CampaignFailed
	}

	if err := e.repo.UpdateStatus(ctx, campaignID, final, domain.CampaignSending); err != nil {
		return "", fmt.Errorf("set final status: %w", err)
	}
	return final, nil
}

// truncateReason keeps transport error transcripts to a sane length before
// they land in the ledger.
func truncateReason(s string) string {
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
