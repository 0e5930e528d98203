// Package collector implements the per-range ingestion state machine: one
// Collector owns a half-open sequence range, fetches one upstream page at a
// time, and reports progress via a StepResult sum type.
package collector

import (
	"context"
	"errors"
	"fmt"
	"os"

	"dota2index/internal/core/mask"
	"dota2index/internal/core/seqrange"
	perr "dota2index/internal/platform/errors"
	"dota2index/internal/platform/logger"
)

// pageSize is the number of matches requested per upstream call
const pageSize = 100

// Page is the minimal upstream response shape a Collector consumes
type Page struct {
	Matches []mask.Match
}

// Upstream is the surface a Collector needs from the match API
type Upstream interface {
	GetPage(ctx context.Context, start uint64, count int) (Page, error)
}

// Kind tags the variant of a StepResult
type Kind int

const (
	// Normal means keep stepping under the same quota
	Normal Kind = iota
	// Yield means rotate to the next collector immediately
	Yield
	// Decel means the shared rate base should be pushed back
	Decel
	// Save means the scheduler should persist the returned range and masks,
	// and the collector continues afterward
	Save
	// Completed means the scheduler should persist and retire this collector
	Completed
)

func (k Kind) String() string {
	switch k {
	case Normal:
		return "Normal"
	case Yield:
		return "Yield"
	case Decel:
		return "Decel"
	case Save:
		return "Save"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Result is the StepResult sum type. Range and Masks are only meaningful
// for Save and Completed.
type Result struct {
	Kind  Kind
	Range seqrange.Range
	Masks []mask.MatchMask
}

// Collector owns one half-open sequence range and an in-memory buffer of
// masks awaiting persistence.
type Collector struct {
	cur    seqrange.Range
	cached seqrange.Range
	buffer []mask.MatchMask
	batch  int
}

// New creates a Collector over r. The initial cached range is the empty
// range at r.Start, matching the invariant cached.End == cur.Start.
func New(r seqrange.Range, batch int) *Collector {
	return &Collector{
		cur:    r,
		cached: seqrange.New(r.Start, r.Start),
		batch:  batch,
	}
}

// CurrentRange returns the still-to-fetch suffix of the owning range
func (c *Collector) CurrentRange() seqrange.Range { return c.cur }

// Step fetches one page and advances cur/cached/buffer, returning the next
// StepResult. Decode failures are fatal: the raw body is dumped to
// {start}-error.json and the error is returned upward unchanged (all other
// outcomes return a nil error).
func (c *Collector) Step(ctx context.Context, client Upstream) (Result, error) {
	start := c.cur.Start

	page, err := client.GetPage(ctx, start, pageSize)
	if err != nil {
		var decodeErr *perr.DecodeFailure
		if errors.As(err, &decodeErr) {
			dumpDecodeFailure(start, decodeErr.Raw)
			return Result{}, err
		}
		if perr.IsCode(err, perr.ErrorCodeTransport) {
			// Retries already exhausted inside the client; no progress this
			// step, let the scheduler decide what happens next.
			return Result{Kind: Normal}, nil
		}
		// Throttle exhaustion or any other non-OK status: decelerate.
		return Result{Kind: Decel}, nil
	}

	next := start + 1
	for _, m := range page.Matches {
		if c.cur.Contains(m.MatchSeqNum) {
			c.buffer = append(c.buffer, mask.Encode(m))
		}
		if m.MatchSeqNum+1 > next {
			next = m.MatchSeqNum + 1
		}
	}

	c.cur.Start = next
	c.cached.End = next

	if len(page.Matches) < pageSize {
		return Result{Kind: Yield}, nil
	}
	if c.cur.Empty() {
		r, m := c.take()
		return Result{Kind: Completed, Range: r, Masks: m}, nil
	}
	if len(c.buffer) >= c.batch {
		r, m := c.take()
		return Result{Kind: Save, Range: r, Masks: m}, nil
	}
	return Result{Kind: Normal}, nil
}

// take atomically swaps out the cached range and buffer, resetting both to
// their empty post-flush state.
func (c *Collector) take() (seqrange.Range, []mask.MatchMask) {
	r := c.cached
	m := c.buffer
	c.cached = seqrange.New(c.cur.Start, c.cur.Start)
	c.buffer = nil
	return r, m
}

func dumpDecodeFailure(start uint64, raw []byte) {
	name := fmt.Sprintf("%d-error.json", start)
	if err := os.WriteFile(name, raw, 0o644); err != nil {
		logger.Named("collector").Error().Err(err).Str("file", name).Msg("failed to dump decode failure artifact")
		return
	}
	logger.Named("collector").Error().Uint64("start", start).Str("file", name).Msg("decode failure, response dumped")
}
