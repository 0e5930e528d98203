// Package checkpoint implements the durable JSON record of collected
// sequence-number ranges and the derivation of the next onward/past ranges.
package checkpoint

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"dota2index/internal/core/seqrange"
	perr "dota2index/internal/platform/errors"
)

// chunkSize bounds each past-front range so a crash loses at most this many
// sequence numbers of progress rather than the entire unindexed tail.
const chunkSize uint64 = 100_000

// document is the on-disk JSON shape
type document struct {
	Collected [][2]uint64 `json:"collected"`
}

// Store is the durable checkpoint of fully-ingested ranges
type Store struct {
	path      string
	collected []seqrange.Range
}

// Load reads path if present and parses it; if the collected list ends up
// empty (file absent, unreadable, or genuinely empty), it bootstraps by
// calling recent to learn the current live tail and seeds a zero-width
// range there.
func Load(path string, recent func() (uint64, error)) (*Store, error) {
	s := &Store{path: path}

	if raw, err := os.ReadFile(path); err == nil {
		var doc document
		if jerr := json.Unmarshal(raw, &doc); jerr == nil {
			for _, pair := range doc.Collected {
				s.collected = append(s.collected, seqrange.New(pair[0], pair[1]))
			}
		}
	}

	if len(s.collected) == 0 {
		seq, err := recent()
		if err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeTransport, "checkpoint: bootstrap recent sequence number")
		}
		s.collected = []seqrange.Range{seqrange.New(seq, seq)}
		if err := s.Save(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Collected returns a copy of the current sorted, strictly-separated range list
func (s *Store) Collected() []seqrange.Range {
	out := make([]seqrange.Range, len(s.collected))
	copy(out, s.collected)
	return out
}

// OnwardRange returns [end_of_last_range, +inf)
func (s *Store) OnwardRange() seqrange.Range {
	last := s.collected[len(s.collected)-1]
	return seqrange.New(last.End, math.MaxUint64)
}

// PastRange returns the gap immediately before the most recent collected
// range, or (zero, false) when there is no earlier history left to collect.
func (s *Store) PastRange() (seqrange.Range, bool) {
	n := len(s.collected)
	if n == 0 {
		return seqrange.Range{}, false
	}
	last := s.collected[n-1]
	if n >= 2 {
		prev := s.collected[n-2]
		return seqrange.New(prev.End, last.Start), true
	}
	if last.Start == 0 {
		return seqrange.Range{}, false
	}
	start := (last.Start - 1) / chunkSize * chunkSize
	return seqrange.New(start, last.Start), true
}

// Complete appends range to the collected list and re-merges it, enforcing
// the sorted, strictly-separated invariant.
func (s *Store) Complete(r seqrange.Range) {
	s.collected = seqrange.Merge(append(s.collected, r))
}

// Save serializes the checkpoint atomically: write to a temp file in the
// same directory, then rename over the destination so a crash mid-write
// never leaves a truncated checkpoint behind.
func (s *Store) Save() error {
	doc := document{Collected: make([][2]uint64, 0, len(s.collected))}
	for _, r := range s.collected {
		doc.Collected = append(doc.Collected, [2]uint64{r.Start, r.End})
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "checkpoint: marshal")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "checkpoint: create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return perr.Wrap(err, perr.ErrorCodeUnknown, "checkpoint: write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return perr.Wrap(err, perr.ErrorCodeUnknown, "checkpoint: close temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return perr.Wrap(err, perr.ErrorCodeUnknown, "checkpoint: rename temp file")
	}
	return nil
}
