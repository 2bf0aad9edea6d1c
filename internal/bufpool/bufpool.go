// Package bufpool provides size-classed byte slices shared by every
// connection, so that streaming chunks and read blocks do not churn the GC.
package bufpool

import (
	"sync"
)

const (
	// SmallSize fits headers and most control-plane payloads.
	SmallSize = 4 << 10

	// MediumSize matches the default storage chunk size.
	MediumSize = 64 << 10

	// LargeSize matches the default read block size.
	LargeSize = 1 << 20
)

type pool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func newClass(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

var global = &pool{
	small:  newClass(SmallSize),
	medium: newClass(MediumSize),
	large:  newClass(LargeSize),
}

// Get returns a slice of length size. Sizes above LargeSize are allocated
// directly and never pooled.
func (p *pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= SmallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= MediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= LargeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put hands a slice back. Slices whose capacity is not a pool class are
// dropped.
func (p *pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case SmallSize:
		p.small.Put(&full)
	case MediumSize:
		p.medium.Put(&full)
	case LargeSize:
		p.large.Put(&full)
	}
}

// Get acquires a buffer from the process-wide pool.
//
//	buf := bufpool.Get(n)
//	defer bufpool.Put(buf)
func Get(size int) []byte {
	return global.Get(size)
}

// Put returns a buffer obtained from Get.
func Put(buf []byte) {
	global.Put(buf)
}
