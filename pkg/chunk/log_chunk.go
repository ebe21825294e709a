// pkg/chunk/log_chunk.go

package chunk

import (
	"time"
	"unsafe"

	"AveLog/pkg/compress"
)

// LogChunk is a fixed capacity run of encoded log entries.
//
// A chunk is hot while its writer is active and cold afterwards. Cold chunks
// keep a compressed snapshot of their contents and drop the decompressed
// region whenever no reader is attached; an attaching reader materializes it
// again. The region is a ref-counted Page: the active writer holds one
// reference and every attached reader holds one, so the region is resident
// exactly while the writer is active or a reader is attached.
//
// LogChunk does no locking. Every call must be made with the owning buffer's
// lock held.
type LogChunk struct {
	capacity              int
	contents              *Page
	writeOffset           int
	readerRefCount        uint32
	writerActive          bool
	highestSequenceNumber uint64

	compressor      compress.Compressor
	compressed      []byte
	compressedLen   int // bytes of contents the snapshot was taken from
	compressedValid bool

	readers   map[ReaderID]PruneNotifier
	destroyed bool
}

var chunkOverhead = int(unsafe.Sizeof(LogChunk{}))

// NewLogChunk creates an empty, writable chunk of capacity bytes.
func NewLogChunk(capacity int, c compress.Compressor) *LogChunk {
	if capacity <= 0 {
		logger.Panicf("capacity of log chunk should > 0: %d", capacity)
	}
	if c == nil {
		c = compress.NewCompressor("none")
	}
	return &LogChunk{
		capacity:              capacity,
		contents:              NewPage(make([]byte, capacity)),
		writerActive:          true,
		highestSequenceNumber: 1,
		compressor:            c,
		readers:               make(map[ReaderID]PruneNotifier),
	}
}

// CanLog reports whether an entry with a msgLen byte payload fits.
func (c *LogChunk) CanLog(msgLen int) bool {
	return c.writeOffset+HeaderSize+msgLen <= c.capacity
}

// Log appends an entry and returns a view of it. The caller must have checked
// CanLog and must pass strictly increasing sequence numbers.
func (c *LogChunk) Log(sequence uint64, realtime time.Time, uid, pid, tid uint32, msg []byte) LogEntry {
	if !c.writerActive {
		logger.Panicf("log sequence %d to a chunk that finished writing", sequence)
	}
	if len(msg) > MaxPayload {
		logger.Panicf("log message of %d bytes exceeds %d", len(msg), MaxPayload)
	}
	if !c.CanLog(len(msg)) {
		logger.Panicf("log message of %d bytes at offset %d overflows chunk of %d", len(msg), c.writeOffset, c.capacity)
	}
	start, end := c.writeOffset, c.writeOffset+HeaderSize+len(msg)
	e := encodeEntry(c.contents.Data[start:end:end], sequence, realtime, uid, pid, tid, msg)
	// the entry is complete before it becomes visible below writeOffset
	c.writeOffset = end
	c.highestSequenceNumber = sequence
	c.invalidateSnapshot()
	return e
}

// FinishWriting deactivates the writer, compresses the contents and drops
// them if no reader is attached. Calls after the first are no-ops.
func (c *LogChunk) FinishWriting() {
	if !c.writerActive {
		return
	}
	c.writerActive = false
	c.Compress()
	c.release()
}

// AttachReader registers a reader and makes the contents resident for it.
func (c *LogChunk) AttachReader(id ReaderID, r PruneNotifier) {
	if c.destroyed {
		logger.Panicf("attach reader %d to a destroyed chunk", id)
	}
	if _, ok := c.readers[id]; ok {
		logger.Panicf("reader %d is already attached", id)
	}
	c.acquire()
	c.readerRefCount++
	c.readers[id] = r
}

// DetachReader unregisters a reader. The last reader of a cold chunk drops
// the contents.
func (c *LogChunk) DetachReader(id ReaderID) {
	if _, ok := c.readers[id]; !ok {
		logger.Panicf("detach reader %d which is not attached", id)
	}
	delete(c.readers, id)
	c.readerRefCount--
	if c.readerRefCount == 0 && !c.writerActive && !c.compressedValid {
		c.Compress()
	}
	c.release()
}

// NotifyReadersOfPrune tells every attached reader that entries of logID are
// going away. Readers may detach from inside the callback.
func (c *LogChunk) NotifyReadersOfPrune(logID LogID) {
	readers := make([]PruneNotifier, 0, len(c.readers))
	for _, r := range c.readers {
		readers = append(readers, r)
	}
	for _, r := range readers {
		r.Prune(logID)
	}
}

// Destroy drops all memory held by the chunk. No reader may be attached.
func (c *LogChunk) Destroy() {
	if c.readerRefCount != 0 {
		logger.Panicf("destroy log chunk with %d readers attached", c.readerRefCount)
	}
	c.contents = nil
	c.writerActive = false
	c.invalidateSnapshot()
	c.destroyed = true
}

// acquire takes a reference on the contents, decompressing them if they
// were dropped.
func (c *LogChunk) acquire() {
	if c.contents == nil {
		c.contents = NewPage(c.Decompress())
		return
	}
	c.contents.Acquire()
}

func (c *LogChunk) release() {
	if c.contents.Release() {
		c.contents = nil
	}
}

// PruneSize is the memory the chunk is charged for: the compressed snapshot
// when the contents are dropped, otherwise the contents.
func (c *LogChunk) PruneSize() int {
	if c.contents == nil {
		return chunkOverhead + len(c.compressed)
	}
	return chunkOverhead + len(c.contents.Data)
}

// LogEntryAt returns the entry at offset, which must be below the write
// offset. The contents must be resident.
func (c *LogChunk) LogEntryAt(offset int) LogEntry {
	if !c.writerActive && c.readerRefCount == 0 {
		logger.Panicf("read entry at %d of a chunk with no writer or reader", offset)
	}
	if offset < 0 || offset >= c.writeOffset {
		logger.Panicf("read entry at %d beyond write offset %d", offset, c.writeOffset)
	}
	e := LogEntry(c.contents.Data[offset:])
	return e[:e.TotalLen():e.TotalLen()]
}

// Entries calls fn for each entry from offset on, in offset order, until fn
// returns false. The contents must be resident.
func (c *LogChunk) Entries(offset int, fn func(offset int, e LogEntry) bool) {
	for offset < c.writeOffset {
		e := c.LogEntryAt(offset)
		if !fn(offset, e) {
			return
		}
		offset += len(e)
	}
}

// Data returns the resident contents, or nil when they were dropped.
func (c *LogChunk) Data() []byte {
	if c.contents == nil {
		return nil
	}
	return c.contents.Data
}

func (c *LogChunk) Resident() bool                  { return c.contents != nil }
func (c *LogChunk) Capacity() int                   { return c.capacity }
func (c *LogChunk) WriteOffset() int                { return c.writeOffset }
func (c *LogChunk) WriterActive() bool              { return c.writerActive }
func (c *LogChunk) HighestSequenceNumber() uint64   { return c.highestSequenceNumber }
func (c *LogChunk) ReaderRefCount() uint32          { return c.readerRefCount }
func (c *LogChunk) CompressedSize() int             { return len(c.compressed) }
func (c *LogChunk) Compressor() compress.Compressor { return c.compressor }
