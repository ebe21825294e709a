// pkg/chunk/page.go

package chunk

import "sync/atomic"

// Page is a reference counted byte region. The bytes are dropped when the
// last reference is released.
type Page struct {
	refs int32
	Data []byte
}

// NewPage create a new page holding one reference.
func NewPage(data []byte) *Page {
	return &Page{refs: 1, Data: data}
}

// Acquire increase the refcount
func (p *Page) Acquire() {
	if atomic.AddInt32(&p.refs, 1) <= 1 {
		logger.Panicf("acquire released page %p", p)
	}
}

// Release decreases the refcount, it returns true once the data is dropped.
func (p *Page) Release() bool {
	refs := atomic.AddInt32(&p.refs, -1)
	if refs < 0 {
		logger.Panicf("refcount of page %p is negative: %d", p, refs)
	}
	if refs == 0 {
		p.Data = nil
		return true
	}
	return false
}

// Refs returns the current reference count.
func (p *Page) Refs() int32 {
	return atomic.LoadInt32(&p.refs)
}
