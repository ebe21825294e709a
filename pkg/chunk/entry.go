// pkg/chunk/entry.go

package chunk

import (
	"encoding/binary"
	"math"
	"time"

	"AveLog/pkg/utils"
)

// Layout of an encoded entry header, little-endian and packed:
//
//	sequence u64 | realtime u64 (unix ns) | uid u32 | pid u32 | tid u32 | msgLen u16
//
// realtime is clamped to [MinRealtime, MaxRealtime], the span unix ns can
// represent (years 1677 to 2262). The zero time.Time encodes as MinRealtime.
const (
	offSequence = 0
	offRealtime = 8
	offUid      = 16
	offPid      = 20
	offTid      = 24
	offMsgLen   = 28

	// HeaderSize is the encoded size of an entry without its payload.
	HeaderSize = 30
	// MaxPayload is the largest message a single entry can carry.
	MaxPayload = math.MaxUint16
)

var (
	MinRealtime = time.Unix(0, math.MinInt64)
	MaxRealtime = time.Unix(0, math.MaxInt64)
)

func unixNano(t time.Time) int64 {
	switch {
	case t.Before(MinRealtime):
		return math.MinInt64
	case t.After(MaxRealtime):
		return math.MaxInt64
	}
	return t.UnixNano()
}

// LogEntry is a view of one encoded entry inside a chunk. It does not own
// the bytes and is only valid while the chunk contents stay resident.
type LogEntry []byte

func (e LogEntry) Sequence() uint64 {
	return binary.LittleEndian.Uint64(e[offSequence:])
}

func (e LogEntry) Realtime() time.Time {
	return time.Unix(0, int64(binary.LittleEndian.Uint64(e[offRealtime:])))
}

func (e LogEntry) Uid() uint32 {
	return binary.LittleEndian.Uint32(e[offUid:])
}

func (e LogEntry) Pid() uint32 {
	return binary.LittleEndian.Uint32(e[offPid:])
}

func (e LogEntry) Tid() uint32 {
	return binary.LittleEndian.Uint32(e[offTid:])
}

func (e LogEntry) MsgLen() int {
	return int(binary.LittleEndian.Uint16(e[offMsgLen:]))
}

// Msg returns the payload without copying.
func (e LogEntry) Msg() []byte {
	return e[HeaderSize : HeaderSize+e.MsgLen()]
}

// TotalLen is the encoded size of the entry.
func (e LogEntry) TotalLen() int {
	return HeaderSize + e.MsgLen()
}

// Decode copies the entry out of the chunk.
func (e LogEntry) Decode(logID LogID) Entry {
	rb := utils.NativeBuffer(e[:HeaderSize])
	out := Entry{LogID: logID}
	out.Sequence = rb.Get64()
	out.Realtime = time.Unix(0, int64(rb.Get64()))
	out.Uid = rb.Get32()
	out.Pid = rb.Get32()
	out.Tid = rb.Get32()
	out.Msg = append([]byte(nil), e[HeaderSize:HeaderSize+int(rb.Get16())]...)
	return out
}

// encodeEntry writes header and msg into dst, which must be exactly
// HeaderSize+len(msg) bytes.
func encodeEntry(dst []byte, sequence uint64, realtime time.Time, uid, pid, tid uint32, msg []byte) LogEntry {
	wb := utils.NativeBuffer(dst)
	wb.Put64(sequence)
	wb.Put64(uint64(unixNano(realtime)))
	wb.Put32(uid)
	wb.Put32(pid)
	wb.Put32(tid)
	wb.Put16(uint16(len(msg)))
	wb.Put(msg)
	return LogEntry(dst)
}

// Entry is a decoded log entry that owns its payload.
type Entry struct {
	LogID    LogID     `json:"log_id"`
	Sequence uint64    `json:"sequence"`
	Realtime time.Time `json:"realtime"`
	Uid      uint32    `json:"uid"`
	Pid      uint32    `json:"pid"`
	Tid      uint32    `json:"tid"`
	Msg      []byte    `json:"msg"`
}

// Size is the encoded size of the entry.
func (e *Entry) Size() int {
	return HeaderSize + len(e.Msg)
}
