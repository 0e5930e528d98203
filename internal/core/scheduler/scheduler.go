// Package scheduler implements the round-robin quota queue that steps
// collectors under one shared rate budget, dispatches Save/Completed events
// to persistence, and spawns new past-front collectors as ranges complete.
package scheduler

import (
	"context"
	"time"

	"dota2index/internal/core/checkpoint"
	"dota2index/internal/core/collector"
	"dota2index/internal/core/mask"
	"dota2index/internal/core/ratelimit"
	"dota2index/internal/core/seqrange"
	"dota2index/internal/platform/logger"
)

// Onward and past quotas, and the past-front batch multiplier, per the
// scheduler's tuning constants.
const (
	onwardQuota     = 16
	pastQuota       = 4
	pastBatchFactor = 10
	decelPenalty    = 2 * time.Second
)

// Persister is the persistence seam the scheduler drives on Save/Completed
type Persister interface {
	Persist(ctx context.Context, r seqrange.Range, masks []mask.MatchMask) error
}

type queueItem struct {
	count int
	col   *collector.Collector
}

// Scheduler owns the shared rate budget, the checkpoint store, and the
// round-robin queue of (quota, collector) pairs.
type Scheduler struct {
	limiter    *ratelimit.Limiter
	checkpoint *checkpoint.Store
	upstream   collector.Upstream
	store      Persister
	batch      int
	queue      []queueItem
}

// New builds a Scheduler, seeding the queue with an onward collector and,
// if prior history leaves a gap, a past collector.
func New(limiter *ratelimit.Limiter, cp *checkpoint.Store, upstream collector.Upstream, store Persister, batch int) *Scheduler {
	s := &Scheduler{
		limiter:    limiter,
		checkpoint: cp,
		upstream:   upstream,
		store:      store,
		batch:      batch,
	}

	s.queue = append(s.queue, queueItem{
		count: onwardQuota,
		col:   collector.New(cp.OnwardRange(), batch),
	})

	if pastCol := s.newPastCollector(); pastCol != nil {
		s.queue = append(s.queue, queueItem{count: pastQuota, col: pastCol})
	}

	return s
}

func (s *Scheduler) newPastCollector() *collector.Collector {
	r, ok := s.checkpoint.PastRange()
	if !ok {
		return nil
	}
	return collector.New(r, s.batch*pastBatchFactor)
}

// Run drives the main loop until ctx is cancelled or the queue empties
// (which does not happen in normal operation: a fully-collected past front
// simply stops being re-enqueued, leaving only the onward collector).
func (s *Scheduler) Run(ctx context.Context) error {
	log := logger.Named("scheduler")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(s.queue) == 0 {
			return nil
		}

		item := s.queue[0]
		s.queue = s.queue[1:]

		next, err := s.drive(ctx, item, log)
		if err != nil {
			return err
		}
		if next != nil {
			s.queue = append(s.queue, *next)
		}
	}
}

// drive runs one collector for up to item.count steps, returning the
// queueItem to re-enqueue (nil if the collector fully retired with no
// further past range to collect).
func (s *Scheduler) drive(ctx context.Context, item queueItem, log *logger.Logger) (*queueItem, error) {
	for i := 0; i < item.count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.limiter.Wait()

		res, err := item.col.Step(ctx, s.upstream)
		if err != nil {
			return nil, err
		}

		switch res.Kind {
		case collector.Normal:
			s.limiter.Accelerate()

		case collector.Yield:
			s.limiter.Accelerate()
			return &item, nil

		case collector.Decel:
			s.limiter.Decelerate()
			s.limiter.Deadline(decelPenalty)

		case collector.Save:
			s.limiter.Accelerate()
			if err := s.persist(ctx, res.Range, res.Masks, log); err != nil {
				return nil, err
			}

		case collector.Completed:
			s.limiter.Accelerate()
			if err := s.persist(ctx, res.Range, res.Masks, log); err != nil {
				return nil, err
			}
			if pastCol := s.newPastCollector(); pastCol != nil {
				return &queueItem{count: item.count, col: pastCol}, nil
			}
			return nil, nil
		}
	}

	return &item, nil
}

func (s *Scheduler) persist(ctx context.Context, r seqrange.Range, masks []mask.MatchMask, log *logger.Logger) error {
	log.Info().Uint64("start", r.Start).Uint64("end", r.End).Int("matches", len(masks)).
		Msg("saving matches")
	if err := s.store.Persist(ctx, r, masks); err != nil {
		return err
	}
	s.checkpoint.Complete(r)
	return s.checkpoint.Save()
}
