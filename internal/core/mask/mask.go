// Package mask implements the 256-bit sparse hero-composition bitmap used to
// index matches per side, and the codec between raw match payloads and that
// bitmap.
package mask

import (
	"math/big"
	"math/bits"
)

// maxHero is the highest representable hero id; hero 0 is a reserved
// sentinel and is never set.
const maxHero = 255

// maxHeroesPerSide bounds how many heroes decode keeps per side
const maxHeroesPerSide = 5

// Bits256 is a fixed 256-bit set, one bit per hero id in [0, 255]. It is kept
// as a plain [4]uint64 rather than math/big.Int or a third-party uint256:
// the only operations this domain needs are set-bit, test-bit, popcount and
// superset, all of which math/bits expresses directly on machine words, and
// a fixed array avoids the heap allocation and arbitrary-width overhead that
// come with a big-integer representation for something that is always
// exactly 256 bits wide.
type Bits256 [4]uint64

// wordIndex and bitIndex split a hero id into its uint64 word and bit offset
func wordIndex(h uint8) int { return int(h) / 64 }
func bitIndex(h uint8) uint { return uint(h) % 64 }

// Set marks hero h present. Hero 0 is silently ignored, matching the
// upstream source's NonZeroU8 gate: it is a reserved sentinel, never an
// actual hero id.
func (b *Bits256) Set(h uint8) {
	if h == 0 {
		return
	}
	b[wordIndex(h)] |= 1 << bitIndex(h)
}

// Test reports whether hero h is present
func (b Bits256) Test(h uint8) bool {
	return b[wordIndex(h)]&(1<<bitIndex(h)) != 0
}

// PopCount returns the number of set bits
func (b Bits256) PopCount() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// IsZero reports whether no bits are set
func (b Bits256) IsZero() bool {
	return b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 0
}

// Superset reports whether b ⊇ other, i.e. every bit set in other is also
// set in b. Equivalent to (other AND NOT b) == 0.
func (b Bits256) Superset(other Bits256) bool {
	for i := range b {
		if other[i]&^b[i] != 0 {
			return false
		}
	}
	return true
}

// Or returns the bitwise union of b and other
func (b Bits256) Or(other Bits256) Bits256 {
	var out Bits256
	for i := range b {
		out[i] = b[i] | other[i]
	}
	return out
}

// Heroes returns the set hero ids in ascending order, truncated to at most
// maxHeroesPerSide entries. Hero ids are scanned from 1 so the sentinel is
// never emitted even if it were somehow set.
func (b Bits256) Heroes() []uint8 {
	out := make([]uint8, 0, maxHeroesPerSide)
	for h := 1; h <= maxHero; h++ {
		if b.Test(uint8(h)) {
			out = append(out, uint8(h))
			if len(out) == maxHeroesPerSide {
				break
			}
		}
	}
	return out
}

// All returns every set hero id in ascending order, uncapped. Heroes caps at
// five because it feeds MatchDraft's per-side output; persistence bucketing
// needs the full set (up to ten, across both sides combined) so it gets its
// own uncapped walk rather than reusing Heroes.
func (b Bits256) All() []uint8 {
	var out []uint8
	for h := 1; h <= maxHero; h++ {
		if b.Test(uint8(h)) {
			out = append(out, uint8(h))
		}
	}
	return out
}

// FromHeroes builds a Bits256 from a list of hero ids
func FromHeroes(heroes []uint8) Bits256 {
	var b Bits256
	for _, h := range heroes {
		b.Set(h)
	}
	return b
}

// ToBigInt converts the bitmap to the *big.Int form clickhouse-go's native
// UInt256 binding expects. This is the one point where the fixed [4]uint64
// representation crosses into math/big: the wire boundary, not the
// in-process type.
func (b Bits256) ToBigInt() *big.Int {
	out := new(big.Int)
	for i := 3; i >= 0; i-- {
		out.Lsh(out, 64)
		out.Or(out, new(big.Int).SetUint64(b[i]))
	}
	return out
}

// FromBigInt reconstructs a Bits256 from the *big.Int form read back off the
// ClickHouse wire.
func FromBigInt(v *big.Int) Bits256 {
	var out Bits256
	if v == nil {
		return out
	}
	mask64 := new(big.Int).SetUint64(^uint64(0))
	tmp := new(big.Int).Set(v)
	for i := 0; i < 4; i++ {
		word := new(big.Int).And(tmp, mask64)
		out[i] = word.Uint64()
		tmp.Rsh(tmp, 64)
	}
	return out
}

// Player is the minimal per-player payload the codec needs from a raw match
type Player struct {
	PlayerSlot uint8
	HeroID     uint8
}

// Match is the minimal raw match payload the codec needs
type Match struct {
	MatchID     uint64
	MatchSeqNum uint64
	Players     []Player
}

// MatchMask is the core index entity: a match id plus a 256-bit hero bitmap
// per side.
type MatchMask struct {
	MatchID uint64
	Radiant Bits256
	Dire    Bits256
}

// MatchDraft is the external, lossy-in-ordering-only projection of a
// MatchMask back to two hero-id arrays.
type MatchDraft struct {
	MatchID uint64
	Radiant []uint8
	Dire    []uint8
}

// side derives Radiant (false) or Dire (true) from bit 7 of player_slot
func side(playerSlot uint8) bool { return playerSlot&0x80 != 0 }

// Encode converts a raw match into a MatchMask. Hero id 0 is never set; it
// is the reserved "unknown hero" sentinel.
func Encode(m Match) MatchMask {
	out := MatchMask{MatchID: m.MatchID}
	for _, p := range m.Players {
		if p.HeroID == 0 {
			continue
		}
		if side(p.PlayerSlot) {
			out.Dire.Set(p.HeroID)
		} else {
			out.Radiant.Set(p.HeroID)
		}
	}
	return out
}

// Decode converts a MatchMask back into a MatchDraft, truncating each side
// to at most 5 heroes.
func Decode(m MatchMask) MatchDraft {
	return MatchDraft{
		MatchID: m.MatchID,
		Radiant: m.Radiant.Heroes(),
		Dire:    m.Dire.Heroes(),
	}
}
