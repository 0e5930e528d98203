// Package seqrange implements half-open intervals over match-sequence numbers
package seqrange

import "sort"

// Range is a half-open interval [Start, End) over 64-bit sequence numbers
type Range struct {
	Start uint64
	End   uint64
}

// New builds a Range, clamping an inverted pair to empty at Start
func New(start, end uint64) Range {
	if end < start {
		end = start
	}
	return Range{Start: start, End: end}
}

// Empty reports whether the range contains no sequence numbers
func (r Range) Empty() bool { return r.End <= r.Start }

// Len returns the number of sequence numbers covered
func (r Range) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether seq falls within [Start, End)
func (r Range) Contains(seq uint64) bool { return seq >= r.Start && seq < r.End }

// Merge combines adjacent and overlapping ranges into a sorted, strictly
// separated list: for any two kept ranges r_i, r_{i+1}, r_i.End < r_{i+1}.Start.
// Touching ranges (r_{i+1}.Start <= r_i.End) are folded into one.
func Merge(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := make([]Range, 0, len(sorted))
	for _, r := range sorted {
		if len(out) == 0 {
			out = append(out, r)
			continue
		}
		last := &out[len(out)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
