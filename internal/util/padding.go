package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is a reasonable default for most modern CPUs.
// 64 works well in practice.
const CacheLineSize = 64

// CacheLinePad separates hot fields into distinct cache lines to reduce
// false sharing. Place it between groups of hot fields.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// PaddedAtomicUint32 is an atomic uint32 padded to exactly one cache line.
// The drain status word is hammered by every reader and writer, so it gets
// a line of its own.
type PaddedAtomicUint32 struct {
	atomic.Uint32
	_ [CacheLineSize - 4]byte
}

// PaddedAtomicUint64 is an atomic uint64 padded to one cache line.
type PaddedAtomicUint64 struct {
	atomic.Uint64
	_ [CacheLineSize - 8]byte
}

// ---- Compile-time size checks (must be exactly one cache line) ----

var (
	_ [CacheLineSize - int(unsafe.Sizeof(PaddedAtomicUint32{}))]byte
	_ [CacheLineSize - int(unsafe.Sizeof(PaddedAtomicUint64{}))]byte
)
