package bloom

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// SmallCapacityBytes is the bit-array size backing Small: 8,192 bytes,
// i.e. 65,536 addressable bits. Each seed yields two 16-bit subwords from
// a 32-bit hash.
const SmallCapacityBytes = 8192

// LargeCapacityBytes is the bit-array size backing Large: 536,870,912
// bytes, i.e. 2^32 bits. Each seed yields four 32-bit subwords from a
// 128-bit hash.
const LargeCapacityBytes = 1 << 29

// Filter is the approximate-membership contract shared by Small and
// Large: a fixed-size bit array with hash-indexed insert and test, no
// deletes, no false negatives, a false-positive rate that grows with
// load. Bits are never cleared once set, so Contains is monotonic in
// Add/ContainsAdd calls (spec.md §3).
//
// Filter is not safe for concurrent use by multiple goroutines; callers
// that share one across stages (the seen-set, shared by the enqueuer and
// the HTML worker) must serialise access with their own mutex, matching
// spec.md §3's ownership model.
type Filter interface {
	// Add sets the bits item maps to. After Add(item), Contains(item) is
	// always true.
	Add(item []byte)
	// Contains reports whether every bit item maps to is set.
	Contains(item []byte) bool
	// ContainsAdd returns Contains(item) as it was immediately before
	// this call, then unconditionally performs the equivalent of Add.
	ContainsAdd(item []byte) bool
}

// Small is the 8,192-byte (65,536-bit) approximate set: each seed is
// hashed with the 32-bit MurmurHash3 variant and split into two 16-bit
// subwords. The CSS worker configures its own instance with two seeds for
// its local content-dedup store (spec.md §3, §4.7: small, process-local,
// never shared across goroutines), but the type itself places no
// constraint on seed count, matching the original's generic seed list.
type Small struct {
	bits  *bitset.BitSet
	seeds []uint32
}

// NewSmall creates a Small filter addressed by the given 32-bit seeds.
func NewSmall(seeds ...uint32) *Small {
	cp := make([]uint32, len(seeds))
	copy(cp, seeds)
	return &Small{
		bits:  bitset.New(SmallCapacityBytes * 8),
		seeds: cp,
	}
}

func (s *Small) positions(item []byte) []uint {
	pos := make([]uint, 0, len(s.seeds)*2)
	for _, seed := range s.seeds {
		h := hash32(item, seed)
		pos = append(pos, uint(h>>16), uint(h&0xffff))
	}
	return pos
}

func (s *Small) Add(item []byte) {
	for _, p := range s.positions(item) {
		s.bits.Set(p)
	}
}

func (s *Small) Contains(item []byte) bool {
	for _, p := range s.positions(item) {
		if !s.bits.Test(p) {
			return false
		}
	}
	return true
}

func (s *Small) ContainsAdd(item []byte) bool {
	positions := s.positions(item)
	contains := true
	for _, p := range positions {
		if !s.bits.Test(p) {
			contains = false
		}
	}
	for _, p := range positions {
		s.bits.Set(p)
	}
	return contains
}

// Large is the 2^29-byte (2^32-bit) approximate set: an arbitrary number
// of seeds, each hashed with the x64-128-bit MurmurHash3 variant and
// split into four 32-bit subwords. This is the production seen-URL
// filter (spec.md §3, §4.2).
type Large struct {
	bits  *bitset.BitSet
	seeds []uint32
}

// NewLarge creates a Large filter addressed by the given 32-bit seeds.
// More seeds reduce the false-positive rate at the cost of more hashing
// and more bits set per insertion.
func NewLarge(seeds ...uint32) *Large {
	cp := make([]uint32, len(seeds))
	copy(cp, seeds)
	return &Large{
		bits:  bitset.New(LargeCapacityBytes * 8),
		seeds: cp,
	}
}

func (l *Large) positions(item []byte) []uint {
	pos := make([]uint, 0, len(l.seeds)*4)
	for _, seed := range l.seeds {
		h1, h2 := hash128(item, seed)
		pos = append(pos, uint(h1>>32), uint(h1&0xffffffff), uint(h2>>32), uint(h2&0xffffffff))
	}
	return pos
}

func (l *Large) Add(item []byte) {
	for _, p := range l.positions(item) {
		l.bits.Set(p)
	}
}

func (l *Large) Contains(item []byte) bool {
	for _, p := range l.positions(item) {
		if !l.bits.Test(p) {
			return false
		}
	}
	return true
}

func (l *Large) ContainsAdd(item []byte) bool {
	positions := l.positions(item)
	contains := true
	for _, p := range positions {
		if !l.bits.Test(p) {
			contains = false
		}
	}
	for _, p := range positions {
		l.bits.Set(p)
	}
	return contains
}

// SeenSet wraps a Large filter with the mutex spec.md §3 requires: it is
// shared between the Enqueuer (ContainsAdd, to mark a URL as about to be
// fetched) and the HTML worker (Contains, to drop URLs already spoken
// for).
type SeenSet struct {
	mu     sync.Mutex
	filter *Large
}

// NewSeenSet wraps a freshly constructed Large filter with the seeds it
// should use.
func NewSeenSet(seeds ...uint32) *SeenSet {
	return &SeenSet{filter: NewLarge(seeds...)}
}

// ContainsAdd is the Enqueuer's mark-as-about-to-fetch operation.
func (s *SeenSet) ContainsAdd(item []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.ContainsAdd(item)
}

// Contains is the HTML worker's read-only filter pass; it never marks.
func (s *SeenSet) Contains(item []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Contains(item)
}
