// Package goroutineid identifies the calling goroutine, so code shared
// between the script goroutine and everything else can tell which side it
// is running on.
package goroutineid

import (
	"bytes"
	"runtime"
	"sync"
	"sync/atomic"
)

// The header line of runtime.Stack is "goroutine 123 [running]:", which
// always fits.
const headerSize = 64

var headerPool = sync.Pool{
	New: func() any {
		b := make([]byte, headerSize)
		return &b
	},
}

var prefix = []byte("goroutine ")

// Get returns the ID of the calling goroutine, or 0 if it cannot be
// determined.
func Get() int64 {
	buf := headerPool.Get().(*[]byte)
	defer headerPool.Put(buf)
	n := runtime.Stack(*buf, false)
	return parse((*buf)[:n])
}

// parse reads the ID from the header of a runtime.Stack dump without
// allocating.
func parse(stack []byte) int64 {
	i := bytes.Index(stack, prefix)
	if i < 0 {
		return 0
	}
	var id int64
	for _, b := range stack[i+len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}

// Owner records the goroutine that owns a resource, such as the event
// loop goroutine that owns a goja.Runtime. The zero value is unclaimed.
type Owner struct {
	id atomic.Int64
}

// Claim makes the calling goroutine the owner.
func (o *Owner) Claim() {
	o.id.Store(Get())
}

// Claimed reports whether Claim has been called.
func (o *Owner) Claimed() bool {
	return o.id.Load() > 0
}

// Owns reports whether the calling goroutine is the owner. It is always
// false before Claim.
func (o *Owner) Owns() bool {
	id := o.id.Load()
	return id > 0 && id == Get()
}
