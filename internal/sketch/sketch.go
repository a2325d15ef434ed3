// Package sketch implements the frequency sketch used by the admission
// policy: a count-min sketch of 4-bit counters with periodic aging.
//
// Each table word holds sixteen 4-bit counters. A key selects one 16-counter
// group per word via the low bits of its hash and touches four words chosen
// by independent seeds, so an estimate is the minimum of four counters.
// Counters saturate at 15. After sampleSize successful increments every
// counter is halved, which keeps the sketch biased toward recent traffic.
//
// A Sketch is not safe for concurrent use; the cache only touches it from
// the maintenance pass.
package sketch

import (
	"math/bits"

	"github.com/IvanBrykalov/tinycache/internal/util"
)

const (
	resetMask = 0x7777777777777777
	oneMask   = 0x1111111111111111

	// minTableSize keeps tiny caches from degenerating into one shared
	// counter group where every key collides with every other key.
	minTableSize = 64
	// maxTableSize bounds memory when the cache is sized by weight.
	maxTableSize = 1 << 26

	// MaxFrequency is the saturation value of a counter.
	MaxFrequency = 15
)

var seeds = [4]uint64{
	0xc3a5c85c97cb3127,
	0xb492b66fbe98f273,
	0x9ae16a3b2f90404f,
	0xcbf29ce484222325,
}

// Sketch is a 4-bit count-min sketch.
type Sketch struct {
	table      []uint64
	tableMask  uint64
	sampleSize uint64
	size       uint64
}

// New returns a sketch sized for roughly capacity distinct keys.
func New(capacity uint64) *Sketch {
	s := &Sketch{}
	s.EnsureCapacity(capacity)
	return s
}

// EnsureCapacity grows the table so it can track capacity keys with a low
// error rate. Growing discards all counts; shrinking is a no-op.
func (s *Sketch) EnsureCapacity(capacity uint64) {
	n := util.NextPow2(capacity)
	if n < minTableSize {
		n = minTableSize
	}
	if n > maxTableSize {
		n = maxTableSize
	}
	if uint64(len(s.table)) >= n {
		return
	}
	s.table = make([]uint64, n)
	s.tableMask = n - 1
	s.sampleSize = 10 * capacity
	if s.sampleSize < 10*minTableSize {
		s.sampleSize = 10 * minTableSize
	}
	s.size = 0
}

// Capacity reports the number of table words.
func (s *Sketch) Capacity() uint64 { return uint64(len(s.table)) }

// Increment records one more occurrence of the key hash. Every sampleSize
// effective increments the sketch ages itself.
func (s *Sketch) Increment(hash uint64) {
	h := spread(hash)
	start := (h & 3) << 2
	added := false
	for i := uint64(0); i < 4; i++ {
		idx := s.indexOf(h, i)
		added = s.incrementAt(idx, start+i) || added
	}
	if added {
		s.size++
		if s.size >= s.sampleSize {
			s.Age()
		}
	}
}

// Estimate returns the approximate number of occurrences of the key hash,
// saturated at MaxFrequency. It may overestimate, never underestimate
// (aging aside).
func (s *Sketch) Estimate(hash uint64) uint8 {
	h := spread(hash)
	start := (h & 3) << 2
	freq := uint64(MaxFrequency)
	for i := uint64(0); i < 4; i++ {
		idx := s.indexOf(h, i)
		count := (s.table[idx] >> ((start + i) << 2)) & 0xf
		if count < freq {
			freq = count
		}
	}
	return uint8(freq)
}

// Age halves every counter. The sample size counter is reduced by the
// halved total and by the truncation error of odd counters.
func (s *Sketch) Age() {
	odd := 0
	for i, w := range s.table {
		odd += bits.OnesCount64(w & oneMask)
		s.table[i] = (w >> 1) & resetMask
	}
	half, lost := s.size>>1, uint64(odd>>2)
	if lost > half {
		lost = half
	}
	s.size = half - lost
}

// Reset clears every counter.
func (s *Sketch) Reset() {
	clear(s.table)
	s.size = 0
}

// incrementAt bumps counter j of word i unless it is saturated.
func (s *Sketch) incrementAt(i, j uint64) bool {
	offset := j << 2
	mask := uint64(0xf) << offset
	if s.table[i]&mask != mask {
		s.table[i] += 1 << offset
		return true
	}
	return false
}

func (s *Sketch) indexOf(h, i uint64) uint64 {
	x := (h + seeds[i]) * seeds[i]
	x += x >> 32
	return x & s.tableMask
}

// spread re-mixes caller hashes so that hashes which only differ in high
// bits still select different counters.
func spread(x uint64) uint64 {
	x = ((x >> 32) ^ x) * 0x45d9f3b45d9f3b
	x = ((x >> 32) ^ x) * 0x45d9f3b45d9f3b
	return (x >> 32) ^ x
}
