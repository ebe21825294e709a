// pkg/logbuffer/reader.go

package logbuffer

import (
	"container/list"
	"context"
	"time"

	"AveLog/pkg/chunk"

	"github.com/juju/ratelimit"
)

const pollInterval = time.Second

// position of a reader in the chunk list of one log id. A reader is attached
// to the chunk it is positioned on, and only to that one.
type position struct {
	elem   *list.Element
	offset int
}

func (p *position) chunk() *chunk.LogChunk {
	return p.elem.Value.(*chunk.LogChunk)
}

// Reader streams entries of a set of log ids in sequence order. Entries
// are copied out of the chunks, so they stay valid after the next Read.
type Reader struct {
	id      chunk.ReaderID
	b       *LogBuffer
	mask    []chunk.LogID
	start   uint64 // next sequence wanted
	pos     [chunk.LogIDMax]position
	limit   *ratelimit.Bucket
	skipped int // prunes that moved this reader forward
	closed  bool
}

var _ chunk.PruneNotifier = (*Reader)(nil)

// NewReader opens a reader of the log ids in mask, or of every log id if
// mask is empty, starting at sequence start.
func (b *LogBuffer) NewReader(mask []chunk.LogID, start uint64) (*Reader, error) {
	if len(mask) == 0 {
		for id := chunk.LogID(0); id < chunk.LogIDMax; id++ {
			mask = append(mask, id)
		}
	}
	seen := make(map[chunk.LogID]bool, len(mask))
	ids := make([]chunk.LogID, 0, len(mask))
	for _, id := range mask {
		if !id.Valid() {
			return nil, ErrInvalidLogID
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if start == 0 {
		start = 1
	}

	b.Lock()
	defer b.Unlock()
	if b.closed {
		return nil, ErrBufferClosed
	}
	r := &Reader{id: b.nextReader, b: b, mask: ids, start: start}
	if rate := b.conf.ReaderRateLimit; rate > 0 {
		r.limit = ratelimit.NewBucketWithRate(float64(rate), rate)
	}
	b.nextReader++
	b.readers[r.id] = r
	b.metrics.setReaders(len(b.readers))
	logger.Debugf("reader %d opened for %v from sequence %d", r.id, ids, start)
	return r, nil
}

// ID returns the id the reader attaches to chunks with.
func (r *Reader) ID() chunk.ReaderID {
	return r.id
}

// Skipped returns how many times the reader was moved past pruned entries.
func (r *Reader) Skipped() int {
	r.b.Lock()
	defer r.b.Unlock()
	return r.skipped
}

// Read returns up to max entries, waiting until at least one is available
// or ctx is done.
func (r *Reader) Read(ctx context.Context, max int) ([]chunk.Entry, error) {
	if max <= 0 {
		max = 1
	}
	r.b.Lock()
	for {
		if r.closed {
			r.b.Unlock()
			return nil, ErrReaderClosed
		}
		if out := r.fill(max); len(out) > 0 {
			r.b.Unlock()
			r.throttle(out)
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			r.b.Unlock()
			return nil, err
		}
		r.b.wakeup.WaitWithTimeout(ctx, pollInterval)
	}
}

// TryRead is Read without waiting.
func (r *Reader) TryRead(max int) ([]chunk.Entry, error) {
	r.b.Lock()
	if r.closed {
		r.b.Unlock()
		return nil, ErrReaderClosed
	}
	out := r.fill(max)
	r.b.Unlock()
	r.throttle(out)
	return out, nil
}

func (r *Reader) throttle(out []chunk.Entry) {
	if r.limit == nil || len(out) == 0 {
		return
	}
	var n int64
	for i := range out {
		n += int64(out[i].Size())
	}
	r.limit.Wait(n)
}

// fill copies up to max entries, merging the log ids by sequence. b must be
// locked.
func (r *Reader) fill(max int) []chunk.Entry {
	var out []chunk.Entry
	for len(out) < max {
		best := chunk.LogIDMax
		var next chunk.LogEntry
		for _, id := range r.mask {
			e := r.peek(id)
			if e == nil {
				continue
			}
			if next == nil || e.Sequence() < next.Sequence() {
				best, next = id, e
			}
		}
		if next == nil {
			break
		}
		out = append(out, next.Decode(best))
		r.pos[best].offset += len(next)
		r.start = next.Sequence() + 1
	}
	return out
}

// peek returns the next entry of id at or after r.start without consuming
// it, moving across chunks as needed. b must be locked.
func (r *Reader) peek(id chunk.LogID) chunk.LogEntry {
	p := &r.pos[id]
	for {
		if p.elem == nil {
			p.elem = r.seek(id)
			if p.elem == nil {
				return nil
			}
			p.offset = 0
			p.chunk().AttachReader(r.id, r)
		}
		c := p.chunk()
		for p.offset < c.WriteOffset() {
			e := c.LogEntryAt(p.offset)
			if e.Sequence() >= r.start {
				return e
			}
			p.offset += len(e)
		}
		if c.WriterActive() {
			return nil
		}
		// done with a finished chunk, move on
		next := p.elem.Next()
		c.DetachReader(r.id)
		p.elem = next
		if next != nil {
			p.offset = 0
			p.chunk().AttachReader(r.id, r)
		}
	}
}

// seek finds the first chunk of id that may hold r.start.
func (r *Reader) seek(id chunk.LogID) *list.Element {
	for e := r.b.logs[id].Front(); e != nil; e = e.Next() {
		c := e.Value.(*chunk.LogChunk)
		if c.WriteOffset() > 0 && c.HighestSequenceNumber() >= r.start {
			return e
		}
	}
	return nil
}

// Prune is called with b locked when the chunk this reader is attached to
// for logID is about to be dropped.
func (r *Reader) Prune(logID chunk.LogID) {
	p := &r.pos[logID]
	if p.elem == nil {
		return
	}
	p.chunk().DetachReader(r.id)
	p.elem = nil
	p.offset = 0
	r.skipped++
	logger.Debugf("reader %d skips pruned entries of %s", r.id, logID)
}

// close detaches from every chunk. b must be locked.
func (r *Reader) close() {
	if r.closed {
		return
	}
	for i := range r.pos {
		p := &r.pos[i]
		if p.elem != nil {
			p.chunk().DetachReader(r.id)
			p.elem = nil
		}
	}
	r.closed = true
}

// Close releases the reader.
func (r *Reader) Close() {
	r.b.Lock()
	defer r.b.Unlock()
	if r.closed {
		return
	}
	r.close()
	delete(r.b.readers, r.id)
	r.b.metrics.setReaders(len(r.b.readers))
	logger.Debugf("reader %d closed", r.id)
}
