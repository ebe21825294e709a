// pkg/stats/stats.go

package stats

import (
	"sort"
	"sync"

	"AveLog/pkg/chunk"
)

// Usage is the number of entries and encoded bytes held for one owner.
type Usage struct {
	Entries int64 `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

func (u *Usage) add(entries, size int64) {
	u.Entries += entries
	u.Bytes += size
}

// UidUsage pairs a uid with its usage.
type UidUsage struct {
	Uid uint32 `json:"uid"`
	Usage
}

// LogUsage is the usage of one log id.
type LogUsage struct {
	LogID   string     `json:"log_id"`
	Total   Usage      `json:"total"`
	Pruned  Usage      `json:"pruned"`
	TopUids []UidUsage `json:"top_uids,omitempty"`
}

type logStats struct {
	total  Usage
	pruned Usage
	uids   map[uint32]*Usage
}

// Statistics accumulates per log id and per uid usage. It is informed by the
// log buffer, never by chunks directly.
type Statistics struct {
	sync.Mutex
	logs [chunk.LogIDMax]logStats
	uids map[uint32]*Usage
}

func NewStatistics() *Statistics {
	s := &Statistics{uids: make(map[uint32]*Usage)}
	for i := range s.logs {
		s.logs[i].uids = make(map[uint32]*Usage)
	}
	return s
}

func usageOf(m map[uint32]*Usage, uid uint32) *Usage {
	u, ok := m[uid]
	if !ok {
		u = &Usage{}
		m[uid] = u
	}
	return u
}

// Add records one entry of size bytes.
func (s *Statistics) Add(logID chunk.LogID, uid uint32, size int) {
	s.Lock()
	defer s.Unlock()
	ls := &s.logs[logID]
	ls.total.add(1, int64(size))
	usageOf(ls.uids, uid).add(1, int64(size))
	usageOf(s.uids, uid).add(1, int64(size))
}

// Subtract removes entries that were pruned from the buffer.
func (s *Statistics) Subtract(logID chunk.LogID, uid uint32, entries, size int) {
	if entries == 0 {
		return
	}
	s.Lock()
	defer s.Unlock()
	ls := &s.logs[logID]
	ls.total.add(-int64(entries), -int64(size))
	ls.pruned.add(int64(entries), int64(size))
	if u, ok := ls.uids[uid]; ok {
		u.add(-int64(entries), -int64(size))
		if u.Entries <= 0 {
			delete(ls.uids, uid)
		}
	}
	if u, ok := s.uids[uid]; ok {
		u.add(-int64(entries), -int64(size))
		if u.Entries <= 0 {
			delete(s.uids, uid)
		}
	}
}

// SubtractChunk removes every entry of a dropped chunk. Entries are grouped
// by uid by the caller.
func (s *Statistics) SubtractChunk(logID chunk.LogID, byUid map[uint32]Usage) {
	for uid, u := range byUid {
		s.Subtract(logID, uid, int(u.Entries), int(u.Bytes))
	}
}

// Sizes returns the bytes currently held for logID.
func (s *Statistics) Sizes(logID chunk.LogID) int64 {
	s.Lock()
	defer s.Unlock()
	return s.logs[logID].total.Bytes
}

// UidUsage returns the usage of uid across all log ids.
func (s *Statistics) UidUsage(uid uint32) Usage {
	s.Lock()
	defer s.Unlock()
	if u, ok := s.uids[uid]; ok {
		return *u
	}
	return Usage{}
}

// TopUids returns up to n uids of logID ordered by bytes, largest first.
func (s *Statistics) TopUids(logID chunk.LogID, n int) []UidUsage {
	s.Lock()
	defer s.Unlock()
	return topUids(s.logs[logID].uids, n)
}

func topUids(m map[uint32]*Usage, n int) []UidUsage {
	out := make([]UidUsage, 0, len(m))
	for uid, u := range m {
		out = append(out, UidUsage{uid, *u})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Uid < out[j].Uid
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Snapshot reports every log id that has ever held entries.
func (s *Statistics) Snapshot(top int) []LogUsage {
	s.Lock()
	defer s.Unlock()
	var out []LogUsage
	for i := range s.logs {
		ls := &s.logs[i]
		if ls.total.Entries == 0 && ls.pruned.Entries == 0 {
			continue
		}
		out = append(out, LogUsage{
			LogID:   chunk.LogID(i).String(),
			Total:   ls.total,
			Pruned:  ls.pruned,
			TopUids: topUids(ls.uids, top),
		})
	}
	return out
}
