package chstore

import (
	"testing"
	"time"

	"dota2index/internal/core/mask"
	"dota2index/internal/core/planner"
)

func TestBucketByHero_GroupsAcrossBothSides(t *testing.T) {
	m := mask.Encode(mask.Match{
		MatchID: 42,
		Players: []mask.Player{
			{PlayerSlot: 0, HeroID: 1},
			{PlayerSlot: 1, HeroID: 2},
			{PlayerSlot: 128, HeroID: 3},
		},
	})

	got := bucketByHero([]mask.MatchMask{m})

	for _, hero := range []uint8{1, 2, 3} {
		rows, ok := got[hero]
		if !ok || len(rows) != 1 || rows[0].MatchID != 42 {
			t.Fatalf("hero %d: expected one bucketed row for match 42, got %v", hero, rows)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected exactly 3 hero buckets, got %d", len(got))
	}
}

func TestBucketByHero_MultipleMatchesAccumulate(t *testing.T) {
	m1 := mask.Encode(mask.Match{MatchID: 1, Players: []mask.Player{{PlayerSlot: 0, HeroID: 5}}})
	m2 := mask.Encode(mask.Match{MatchID: 2, Players: []mask.Player{{PlayerSlot: 0, HeroID: 5}}})

	got := bucketByHero([]mask.MatchMask{m1, m2})
	if len(got[5]) != 2 {
		t.Fatalf("expected 2 rows under hero 5, got %d", len(got[5]))
	}
}

func TestTableName(t *testing.T) {
	if got := tableName(17); got != "index_mask_17" {
		t.Fatalf("tableName(17) = %q, want index_mask_17", got)
	}
}

func TestBuildPivotQuery_SingleTeam(t *testing.T) {
	pred := planner.Predicate{Single: true, Primary: mask.FromHeroes([]uint8{3})}
	query, args := buildPivotQuery(3, pred, 10, 0)

	if query == "" {
		t.Fatalf("expected non-empty query")
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args (primary, primary, limit, offset), got %d", len(args))
	}
	if args[2] != 10 || args[3] != 0 {
		t.Fatalf("expected limit/offset tail, got %v", args[2:])
	}
}

func TestBackoff_ExponentialWithCap(t *testing.T) {
	s := &Store{opts: Options{RetryBase: 200 * time.Millisecond}}

	if got := s.backoff(0); got != 200*time.Millisecond {
		t.Fatalf("backoff(0) = %v, want 200ms", got)
	}
	if got := s.backoff(3); got != 1600*time.Millisecond {
		t.Fatalf("backoff(3) = %v, want 1.6s", got)
	}
	if got := s.backoff(20); got != persistMaxBackoff {
		t.Fatalf("backoff(20) = %v, want cap of %v", got, persistMaxBackoff)
	}
}

func TestBuildPivotQuery_TwoTeams(t *testing.T) {
	pred := planner.Predicate{
		Primary:   mask.FromHeroes([]uint8{3}),
		Secondary: mask.FromHeroes([]uint8{1, 2}),
	}
	query, args := buildPivotQuery(3, pred, 10, 0)

	if query == "" {
		t.Fatalf("expected non-empty query")
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args (primary, secondary, secondary, primary, limit, offset), got %d", len(args))
	}
}
