// Package planner implements the query planner: given two hero sets, it
// picks the smallest-cardinality hero's per-hero index table and emits a
// symmetric predicate covering both side assignments.
package planner

import (
	"context"

	"dota2index/internal/core/mask"
)

// maxLimit is the hard ceiling applied to any caller-supplied limit
const maxLimit = 100

// Index is the persistence surface the planner needs: a per-hero row count
// (to choose the cheapest pivot) and a scan of one hero's table under a
// two-sided superset predicate.
type Index interface {
	CountHero(ctx context.Context, hero uint8) (int64, error)
	ScanPivot(ctx context.Context, pivot uint8, predicate Predicate, limit, offset int) ([]mask.MatchDraft, error)
}

// Predicate describes the symmetric superset check the scan applies. When
// Single is true only Primary is meaningful: "(radiant ⊇ Primary) OR
// (dire ⊇ Primary)". Otherwise: "(radiant ⊇ Primary AND dire ⊇ Secondary)
// OR (radiant ⊇ Secondary AND dire ⊇ Primary)".
type Predicate struct {
	Single    bool
	Primary   mask.Bits256
	Secondary mask.Bits256
}

// Planner plans and executes draft queries against an Index
type Planner struct {
	index Index
}

// New builds a Planner over the given Index
func New(index Index) *Planner {
	return &Planner{index: index}
}

// Query resolves team1/team2 to the cheapest pivot scan and returns decoded
// drafts ordered by match_id descending.
func (p *Planner) Query(ctx context.Context, team1, team2 []uint8, limit, offset int) ([]mask.MatchDraft, error) {
	if len(team1) == 0 && len(team2) == 0 {
		return []mask.MatchDraft{}, nil
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	mask1 := mask.FromHeroes(team1)
	mask2 := mask.FromHeroes(team2)

	pivot1, count1, err := p.cheapestHero(ctx, team1)
	if err != nil {
		return nil, err
	}
	pivot2, count2, err := p.cheapestHero(ctx, team2)
	if err != nil {
		return nil, err
	}

	var (
		pivotHero uint8
		pred      Predicate
	)

	switch {
	case len(team1) == 0:
		pivotHero = pivot2
		pred = Predicate{Single: true, Primary: mask2}
	case len(team2) == 0:
		pivotHero = pivot1
		pred = Predicate{Single: true, Primary: mask1}
	case count1 <= count2:
		pivotHero = pivot1
		pred = Predicate{Primary: mask1, Secondary: mask2}
	default:
		pivotHero = pivot2
		pred = Predicate{Primary: mask2, Secondary: mask1}
	}

	return p.index.ScanPivot(ctx, pivotHero, pred, limit, offset)
}

// cheapestHero finds, among heroes, the one whose per-hero table has the
// smallest row count. Returns (0, maxInt64-ish sentinel, nil) for an empty
// team so the caller's comparison always prefers the non-empty side.
func (p *Planner) cheapestHero(ctx context.Context, heroes []uint8) (uint8, int64, error) {
	if len(heroes) == 0 {
		return 0, int64(^uint64(0) >> 1), nil
	}

	var (
		best      uint8
		bestCount int64 = -1
	)
	for _, h := range heroes {
		n, err := p.index.CountHero(ctx, h)
		if err != nil {
			return 0, 0, err
		}
		if bestCount < 0 || n < bestCount {
			bestCount = n
			best = h
		}
	}
	return best, bestCount, nil
}
