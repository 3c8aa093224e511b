package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"enforcement-engine/internal/config"
	"enforcement-engine/internal/enforce"
	"enforcement-engine/internal/models"
	"enforcement-engine/internal/queue"
	"enforcement-engine/internal/store"
	"enforcement-engine/internal/telemetry"
)

// Handler executes one job of a registered kind. Handlers must be
// idempotent: delivery is at-least-once, so a crash after the side effect
// but before the ack replays the job.
type Handler func(ctx context.Context, job models.Job) error

// Processor drives the worker loop: reclaim expired leases, poll each
// registered kind, dispatch, ack or back off.
type Processor struct {
	cfg      config.Config
	engine   *enforce.Engine
	queue    *queue.RedisQueue
	store    *store.Store
	handlers map[string]Handler
	kinds    []string
}

// NewProcessor creates a processor with no handlers registered.
func NewProcessor(cfg config.Config, eng *enforce.Engine, q *queue.RedisQueue, st *store.Store) *Processor {
	return &Processor{
		cfg:      cfg,
		engine:   eng,
		queue:    q,
		store:    st,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to a job kind. Kinds without a handler
// are left on the queue for external consumers.
func (p *Processor) RegisterHandler(kind string, handler Handler) {
	if !models.ValidKind(kind) || handler == nil {
		return
	}
	if _, exists := p.handlers[kind]; !exists {
		p.kinds = append(p.kinds, kind)
	}
	p.handlers[kind] = handler
}

// Run polls until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.reclaimExpired(ctx)
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		worked := false
		for _, kind := range p.kinds {
			job, err := p.engine.DequeueJob(ctx, kind)
			if err != nil || job == nil {
				continue
			}
			worked = true
			telemetry.InFlightGauge.Inc()
			p.process(ctx, *job)
			telemetry.InFlightGauge.Dec()
		}

		if !worked {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
		}
	}
}

// reclaimExpired pushes lapsed leases back to their ready lists. Reclaims
// are counted separately from InFlightGauge: the lapsed lease may belong to
// another worker, one whose processing this gauge never tracked.
func (p *Processor) reclaimExpired(ctx context.Context) {
	reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), int64(p.cfg.ReclaimBatchSize))
	if err == nil && len(reclaimed) > 0 {
		telemetry.LeasesReclaimed.Add(float64(len(reclaimed)))
	}
}

func (p *Processor) process(ctx context.Context, job models.Job) {
	err := p.handlers[job.Kind](ctx, job)
	if err == nil {
		_ = p.queue.Ack(ctx, job.ID)
		_ = p.store.MarkJobAcked(ctx, job.ID)
		telemetry.WorkerSuccess.Inc()
		return
	}

	attempts := job.Attempts + 1
	max := job.MaxAttempts
	if max == 0 {
		max = p.cfg.MaxAttempts
	}
	if attempts >= max {
		_ = p.store.MarkJobDeadLetter(ctx, job.ID, err.Error())
		_ = p.queue.Ack(ctx, job.ID)
		_ = p.queue.DLQPush(ctx, job.ID)
		telemetry.WorkerDeadLetter.Inc()
		return
	}

	// Keep the lease and stretch it by the backoff; the reclaim pass will
	// redeliver once it lapses.
	_ = p.store.UpdateJobAttempts(ctx, job.ID, attempts, err.Error())
	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
	_ = p.queue.ExtendLease(ctx, job.ID, backoff)
	telemetry.WorkerFailures.Inc()
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
