// pkg/logbuffer/buffer.go

package logbuffer

import (
	"container/list"
	"context"
	"sync"
	"time"

	"AveLog/pkg/chunk"
	"AveLog/pkg/compress"
	"AveLog/pkg/meta"
	"AveLog/pkg/stats"
	"AveLog/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("avelog")

var (
	ErrInvalidLogID    = errors.New("invalid log id")
	ErrMessageTooLarge = errors.New("message too large")
	ErrReaderClosed    = errors.New("reader closed")
	ErrBufferClosed    = errors.New("log buffer closed")
)

// accountingReader is the ReaderID the buffer uses for itself while walking
// a chunk that is about to be dropped. Readers get ids from 1 on.
const accountingReader chunk.ReaderID = 0

type nopNotifier struct{}

func (nopNotifier) Prune(chunk.LogID) {}

// LogBuffer keeps recent log entries of every log id in a list of chunks.
// The newest chunk of each list is the only one being written; older ones
// are compressed. One mutex guards every chunk.
type LogBuffer struct {
	sync.Mutex
	conf       *Config
	compressor compress.Compressor
	logs       [chunk.LogIDMax]*list.List // of *chunk.LogChunk, oldest first
	maxSize    [chunk.LogIDMax]int64
	sequence   uint64

	stats   *stats.Statistics
	metrics *Metrics
	quotas  map[uint32]int64

	readers    map[chunk.ReaderID]*Reader
	nextReader chunk.ReaderID
	wakeup     *notifier
	closed     bool
}

// New creates a LogBuffer. st and m may be nil.
func New(conf *Config, st *stats.Statistics, m *Metrics) (*LogBuffer, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		st = stats.NewStatistics()
	}
	b := &LogBuffer{
		conf:       conf,
		compressor: compress.NewCompressor(conf.Compression),
		sequence:   1,
		stats:      st,
		metrics:    m,
		quotas:     make(map[uint32]int64),
		readers:    make(map[chunk.ReaderID]*Reader),
		nextReader: accountingReader + 1,
	}
	b.wakeup = newNotifier(&b.Mutex)
	for i := range b.logs {
		b.logs[i] = list.New()
		b.maxSize[i] = conf.maxSize(chunk.LogID(i))
	}
	logger.Debugf("log buffer created: max size %d, compression %s", conf.MaxSize, b.compressor.Name())
	return b, nil
}

func (b *LogBuffer) chunkSize(id chunk.LogID) int {
	if b.conf.ChunkSize > 0 {
		return b.conf.ChunkSize
	}
	size := int(b.maxSize[id] / 4)
	if size < minChunkSize {
		size = minChunkSize
	}
	return size
}

// Log appends one entry and returns its sequence number.
func (b *LogBuffer) Log(id chunk.LogID, realtime time.Time, uid, pid, tid uint32, msg []byte) (uint64, error) {
	if !id.Valid() {
		return 0, ErrInvalidLogID
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return 0, ErrBufferClosed
	}
	if len(msg) > chunk.MaxPayload || chunk.HeaderSize+len(msg) > b.chunkSize(id) {
		return 0, ErrMessageTooLarge
	}

	l := b.logs[id]
	var c *chunk.LogChunk
	if back := l.Back(); back != nil {
		c = back.Value.(*chunk.LogChunk)
	}
	if c == nil || !c.WriterActive() || !c.CanLog(len(msg)) {
		if c != nil && c.WriterActive() {
			c.FinishWriting()
			b.metrics.finished(id, c)
			b.enforceQuotas(id)
		}
		c = chunk.NewLogChunk(b.chunkSize(id), b.compressor)
		l.PushBack(c)
	}

	seq := b.sequence
	b.sequence++
	e := c.Log(seq, realtime, uid, pid, tid, msg)
	b.stats.Add(id, uid, len(e))
	b.metrics.logged(id, len(e))

	b.maybePrune(id)
	b.wakeup.Broadcast()
	return seq, nil
}

// memoryUsage sums what the chunks of id are charged for. b must be locked.
func (b *LogBuffer) memoryUsage(id chunk.LogID) int64 {
	var total int64
	for e := b.logs[id].Front(); e != nil; e = e.Next() {
		total += int64(e.Value.(*chunk.LogChunk).PruneSize())
	}
	return total
}

// maybePrune drops the oldest finished chunks of id until it fits its limit.
// Attached readers are told to skip ahead first.
func (b *LogBuffer) maybePrune(id chunk.LogID) {
	l := b.logs[id]
	total := b.memoryUsage(id)
	for total > b.maxSize[id] {
		front := l.Front()
		c := front.Value.(*chunk.LogChunk)
		if c.WriterActive() {
			break
		}
		total -= int64(c.PruneSize())
		if c.ReaderRefCount() > 0 {
			c.NotifyReadersOfPrune(id)
		}
		entries := b.removeChunk(id, front)
		b.metrics.pruned(id, "size", entries)
		logger.Debugf("pruned a chunk of %d entries from %s, usage %d of %d", entries, id, total, b.maxSize[id])
	}
	b.metrics.usage(id, total, l.Len())
}

// removeChunk subtracts the entries of a chunk from the statistics and
// destroys it. It returns the number of entries dropped.
func (b *LogBuffer) removeChunk(id chunk.LogID, elem *list.Element) int {
	c := elem.Value.(*chunk.LogChunk)
	byUid := make(map[uint32]stats.Usage)
	var entries int
	c.AttachReader(accountingReader, nopNotifier{})
	c.Entries(0, func(offset int, e chunk.LogEntry) bool {
		u := byUid[e.Uid()]
		u.Entries++
		u.Bytes += int64(len(e))
		byUid[e.Uid()] = u
		entries++
		return true
	})
	c.DetachReader(accountingReader)
	b.stats.SubtractChunk(id, byUid)

	b.logs[id].Remove(elem)
	c.Destroy()
	return entries
}

// Clear removes the entries of uid from every chunk of id that has no reader
// attached. It returns true if some chunk was skipped because it was busy.
func (b *LogBuffer) Clear(id chunk.LogID, uid uint32) (bool, error) {
	if !id.Valid() {
		return false, ErrInvalidLogID
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return false, ErrBufferClosed
	}
	return b.clear(id, uid, "uid"), nil
}

func (b *LogBuffer) clear(id chunk.LogID, uid uint32, reason string) (busy bool) {
	l := b.logs[id]
	for elem := l.Front(); elem != nil; {
		next := elem.Next()
		c := elem.Value.(*chunk.LogChunk)
		if c.ReaderRefCount() > 0 {
			busy = true
			elem = next
			continue
		}
		res := c.ClearUidLogs(uid, id)
		b.stats.Subtract(id, uid, res.Entries, res.Bytes)
		b.metrics.pruned(id, reason, res.Entries)
		if res.Empty && !c.WriterActive() {
			l.Remove(elem)
			c.Destroy()
		}
		elem = next
	}
	b.metrics.usage(id, b.memoryUsage(id), l.Len())
	return busy
}

// enforceQuotas clears the entries of every uid over its quota from id.
func (b *LogBuffer) enforceQuotas(id chunk.LogID) {
	for uid, quota := range b.quotas {
		used := b.stats.UidUsage(uid).Bytes
		if used <= quota {
			continue
		}
		busy := b.clear(id, uid, "quota")
		logger.Infof("uid %d used %d bytes over quota %d, cleared from %s (busy %v)", uid, used, quota, id, busy)
	}
}

// SetQuotas replaces the per uid quotas.
func (b *LogBuffer) SetQuotas(quotas map[uint32]int64) {
	b.Lock()
	defer b.Unlock()
	b.quotas = make(map[uint32]int64, len(quotas))
	for uid, q := range quotas {
		b.quotas[uid] = q
	}
}

// LoadQuotas reads the quotas from store.
func (b *LogBuffer) LoadQuotas(ctx context.Context, store meta.QuotaStore) error {
	quotas, err := store.Load(ctx)
	if err != nil {
		return err
	}
	b.SetQuotas(quotas)
	logger.Infof("loaded %d quotas from %s", len(quotas), store.Name())
	return nil
}

// SetSize changes the byte limit of id and prunes to it.
func (b *LogBuffer) SetSize(id chunk.LogID, size int64) error {
	if !id.Valid() {
		return ErrInvalidLogID
	}
	if !validSize(size) {
		return errors.Errorf("invalid log size %d", size)
	}
	b.Lock()
	defer b.Unlock()
	b.maxSize[id] = size
	b.maybePrune(id)
	return nil
}

// GetSize returns the byte limit of id.
func (b *LogBuffer) GetSize(id chunk.LogID) int64 {
	b.Lock()
	defer b.Unlock()
	return b.maxSize[id]
}

// MemoryUsage returns the memory charged to id.
func (b *LogBuffer) MemoryUsage(id chunk.LogID) int64 {
	b.Lock()
	defer b.Unlock()
	return b.memoryUsage(id)
}

// ChunkCount returns the number of chunks of id.
func (b *LogBuffer) ChunkCount(id chunk.LogID) int {
	b.Lock()
	defer b.Unlock()
	return b.logs[id].Len()
}

// CompressedRatio returns uncompressed/compressed bytes of the finished
// chunks of id, or 0 when there are none.
func (b *LogBuffer) CompressedRatio(id chunk.LogID) float64 {
	b.Lock()
	defer b.Unlock()
	var raw, packed int
	for e := b.logs[id].Front(); e != nil; e = e.Next() {
		c := e.Value.(*chunk.LogChunk)
		if c.WriterActive() || !c.SnapshotValid() {
			continue
		}
		raw += c.WriteOffset()
		packed += c.CompressedSize()
	}
	if packed == 0 {
		return 0
	}
	return float64(raw) / float64(packed)
}

// Statistics returns the statistics collaborator.
func (b *LogBuffer) Statistics() *stats.Statistics {
	return b.stats
}

// Sequence returns the sequence number the next entry will get.
func (b *LogBuffer) Sequence() uint64 {
	b.Lock()
	defer b.Unlock()
	return b.sequence
}

// Close detaches every reader and destroys all chunks.
func (b *LogBuffer) Close() {
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return
	}
	for _, r := range b.readers {
		r.close()
	}
	b.readers = make(map[chunk.ReaderID]*Reader)
	b.metrics.setReaders(0)
	for i, l := range b.logs {
		for e := l.Front(); e != nil; e = e.Next() {
			e.Value.(*chunk.LogChunk).Destroy()
		}
		l.Init()
		b.metrics.usage(chunk.LogID(i), 0, 0)
	}
	b.closed = true
	b.wakeup.Broadcast()
}
