// pkg/logbuffer/buffer_test.go

package logbuffer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"AveLog/pkg/chunk"
	"AveLog/pkg/meta"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, compression string) *LogBuffer {
	t.Helper()
	b, err := New(&Config{
		MaxSize:     64 << 10,
		ChunkSize:   4096,
		Compression: compression,
	}, nil, NewMetrics())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func logN(t *testing.T, b *LogBuffer, id chunk.LogID, uid uint32, n int) []uint64 {
	t.Helper()
	seqs := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		seq, err := b.Log(id, time.Now(), uid, 100, 101, []byte(fmt.Sprintf("I %s: message number %06d", id, i)))
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}
	return seqs
}

func sequences(entries []chunk.Entry) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.Sequence
	}
	return out
}

func requireIncreasing(t *testing.T, seqs []uint64) {
	t.Helper()
	for i := 1; i < len(seqs); i++ {
		require.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	for _, c := range []*Config{
		{MaxSize: 1024, Compression: "zstd"},
		{MaxSize: 64 << 10, Compression: "brotli"},
		{MaxSize: 64 << 10, ChunkSize: 10},
		{MaxSize: 64 << 10, MaxSizes: map[chunk.LogID]int64{chunk.LogIDMax: 64 << 10}},
		{MaxSize: 64 << 10, MaxSizes: map[chunk.LogID]int64{chunk.LogIDCrash: 1}},
		{MaxSize: 64 << 10, ReaderRateLimit: -1},
	} {
		require.Error(t, c.Validate(), "%+v", c)
	}
	_, err := New(&Config{MaxSize: 1}, nil, nil)
	require.Error(t, err)
}

func TestLogAndRead(t *testing.T) {
	b := newTestBuffer(t, "zstd")
	main := logN(t, b, chunk.LogIDMain, 1000, 5)
	system := logN(t, b, chunk.LogIDSystem, 1000, 5)
	more := logN(t, b, chunk.LogIDMain, 1001, 5)

	r, err := b.NewReader(nil, 0)
	require.NoError(t, err)
	defer r.Close()
	entries, err := r.TryRead(100)
	require.NoError(t, err)
	require.Len(t, entries, 15)
	var expect []uint64
	expect = append(expect, main...)
	expect = append(expect, system...)
	expect = append(expect, more...)
	require.Equal(t, expect, sequences(entries))
	require.Equal(t, chunk.LogIDSystem, entries[5].LogID)
	require.Equal(t, "I system: message number 000000", string(entries[5].Msg))
	require.Equal(t, uint32(100), entries[0].Pid)

	// masked reader from the middle
	r2, err := b.NewReader([]chunk.LogID{chunk.LogIDMain, chunk.LogIDMain}, main[3])
	require.NoError(t, err)
	defer r2.Close()
	entries, err = r2.TryRead(3)
	require.NoError(t, err)
	require.Equal(t, []uint64{main[3], main[4], more[0]}, sequences(entries))

	entries, err = r.TryRead(10)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, more[4]+1, b.Sequence())
}

func TestRolloverCompresses(t *testing.T) {
	b := newTestBuffer(t, "zstd")
	logN(t, b, chunk.LogIDMain, 1000, 300)
	require.Greater(t, b.ChunkCount(chunk.LogIDMain), 3)
	require.Greater(t, b.CompressedRatio(chunk.LogIDMain), 2.0)

	b.Lock()
	l := b.logs[chunk.LogIDMain]
	for e := l.Front(); e != nil; e = e.Next() {
		c := e.Value.(*chunk.LogChunk)
		require.Equal(t, e == l.Back(), c.WriterActive())
		require.Equal(t, c.WriterActive(), c.Resident())
	}
	b.Unlock()

	require.Equal(t, 0.0, testutil.ToFloat64(b.metrics.readers))
	require.Equal(t, 300.0, testutil.ToFloat64(b.metrics.entries.WithLabelValues("main")))
	require.Greater(t, testutil.ToFloat64(b.metrics.chunksFinished.WithLabelValues("main")), 2.0)
}

func TestPruneBySize(t *testing.T) {
	b := newTestBuffer(t, "none")
	seqs := logN(t, b, chunk.LogIDMain, 1000, 3000)
	require.LessOrEqual(t, b.MemoryUsage(chunk.LogIDMain), int64(64<<10))
	require.Greater(t, testutil.ToFloat64(b.metrics.prunedEntries.WithLabelValues("main", "size")), 0.0)

	b.Lock()
	var held int64
	for e := b.logs[chunk.LogIDMain].Front(); e != nil; e = e.Next() {
		held += int64(e.Value.(*chunk.LogChunk).WriteOffset())
	}
	b.Unlock()
	require.Equal(t, held, b.Statistics().Sizes(chunk.LogIDMain))

	r, err := b.NewReader([]chunk.LogID{chunk.LogIDMain}, 1)
	require.NoError(t, err)
	defer r.Close()
	entries, err := r.TryRead(10000)
	require.NoError(t, err)
	got := sequences(entries)
	requireIncreasing(t, got)
	require.Greater(t, got[0], seqs[0])
	require.Equal(t, seqs[len(seqs)-1], got[len(got)-1])

	require.NoError(t, b.SetSize(chunk.LogIDMain, 128<<10))
	require.Equal(t, int64(128<<10), b.GetSize(chunk.LogIDMain))
	require.Error(t, b.SetSize(chunk.LogIDMain, 1))
	require.ErrorIs(t, b.SetSize(chunk.LogIDMax, 128<<10), ErrInvalidLogID)
}

func TestPruneSkipsAttachedReader(t *testing.T) {
	b := newTestBuffer(t, "lz4")
	first := logN(t, b, chunk.LogIDEvents, 1000, 10)

	r, err := b.NewReader([]chunk.LogID{chunk.LogIDEvents}, 0)
	require.NoError(t, err)
	defer r.Close()
	entries, err := r.TryRead(5)
	require.NoError(t, err)
	require.Equal(t, first[:5], sequences(entries))

	// lz4 squeezes these well, use incompressible payloads to push the limit
	var last uint64
	for i := 0; i < 20000; i++ {
		msg := []byte(fmt.Sprintf("%x", time.Now().UnixNano()*int64(i+7919)))
		last, err = b.Log(chunk.LogIDEvents, time.Now(), 1000, 1, 1, msg)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, r.Skipped(), 1)

	entries, err = r.TryRead(100000)
	require.NoError(t, err)
	got := sequences(entries)
	requireIncreasing(t, got)
	require.Greater(t, got[0], first[4])
	require.Equal(t, last, got[len(got)-1])
}

func TestClear(t *testing.T) {
	b := newTestBuffer(t, "zstd")
	for i := 0; i < 200; i++ {
		_, err := b.Log(chunk.LogIDMain, time.Now(), uint32(1+i%2), 1, 1, []byte(fmt.Sprintf("line %d", i)))
		require.NoError(t, err)
	}
	st := b.Statistics()
	require.Equal(t, int64(100), st.UidUsage(1).Entries)

	busy, err := b.Clear(chunk.LogIDMain, 1)
	require.NoError(t, err)
	require.False(t, busy)
	require.Equal(t, int64(0), st.UidUsage(1).Entries)
	require.Equal(t, int64(100), st.UidUsage(2).Entries)

	r, err := b.NewReader(nil, 0)
	require.NoError(t, err)
	entries, err := r.TryRead(1000)
	require.NoError(t, err)
	require.Len(t, entries, 100)
	for _, e := range entries {
		require.Equal(t, uint32(2), e.Uid)
	}

	// r is parked on the newest chunk, that one is skipped
	busy, err = b.Clear(chunk.LogIDMain, 2)
	require.NoError(t, err)
	require.True(t, busy)
	r.Close()

	busy, err = b.Clear(chunk.LogIDMain, 2)
	require.NoError(t, err)
	require.False(t, busy)
	require.Equal(t, int64(0), st.UidUsage(2).Entries)
	require.Equal(t, 1, b.ChunkCount(chunk.LogIDMain), "only the chunk being written survives")

	_, err = b.Clear(chunk.LogIDMax, 2)
	require.ErrorIs(t, err, ErrInvalidLogID)
}

func TestQuota(t *testing.T) {
	b := newTestBuffer(t, "none")
	store, err := meta.NewClient("memkv://quota-test", nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), 7, 2000))
	require.NoError(t, b.LoadQuotas(context.Background(), store))

	for i := 0; i < 200; i++ {
		uid := uint32(7 + i%2)
		_, err := b.Log(chunk.LogIDMain, time.Now(), uid, 1, 1, []byte(fmt.Sprintf("quota test line %06d, padding...", i)))
		require.NoError(t, err)
	}
	st := b.Statistics()
	require.Less(t, st.UidUsage(7).Bytes, int64(4096))
	require.Equal(t, int64(100), st.UidUsage(8).Entries)
	require.Greater(t, testutil.ToFloat64(b.metrics.prunedEntries.WithLabelValues("main", "quota")), 0.0)
}

func TestBlockingRead(t *testing.T) {
	b := newTestBuffer(t, "zstd")
	r, err := b.NewReader([]chunk.LogID{chunk.LogIDCrash}, 0)
	require.NoError(t, err)
	defer r.Close()

	got := make(chan []chunk.Entry, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		entries, err := r.Read(ctx, 10)
		if err != nil {
			got <- nil
			return
		}
		got <- entries
	}()
	time.Sleep(50 * time.Millisecond)
	seq, err := b.Log(chunk.LogIDCrash, time.Now(), 0, 1, 1, []byte("F libc: Fatal signal 11"))
	require.NoError(t, err)

	select {
	case entries := <-got:
		require.Len(t, entries, 1)
		require.Equal(t, seq, entries[0].Sequence)
	case <-time.After(5 * time.Second):
		t.Fatal("reader was not woken up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Read(ctx, 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimitedReader(t *testing.T) {
	const rate = 1000
	b, err := New(&Config{MaxSize: 64 << 10, Compression: "lz4", ReaderRateLimit: rate}, nil, nil)
	require.NoError(t, err)
	defer b.Close()
	logN(t, b, chunk.LogIDRadio, 1, 50)
	r, err := b.NewReader([]chunk.LogID{chunk.LogIDRadio}, 0)
	require.NoError(t, err)

	start := time.Now()
	entries, err := r.Read(context.Background(), 100)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Len(t, entries, 50)

	var size int
	for i := range entries {
		size += entries[i].Size()
	}
	// the bucket starts with one second worth of tokens
	require.Greater(t, size, 2*rate)
	require.GreaterOrEqual(t, elapsed, time.Duration(size-rate)*time.Second/rate-200*time.Millisecond)
}

func TestErrors(t *testing.T) {
	b := newTestBuffer(t, "none")
	_, err := b.Log(chunk.LogIDMax, time.Now(), 1, 1, 1, nil)
	require.ErrorIs(t, err, ErrInvalidLogID)
	_, err = b.Log(chunk.LogIDMain, time.Now(), 1, 1, 1, make([]byte, 5000))
	require.ErrorIs(t, err, ErrMessageTooLarge)
	_, err = b.NewReader([]chunk.LogID{chunk.LogIDMax}, 0)
	require.ErrorIs(t, err, ErrInvalidLogID)

	logN(t, b, chunk.LogIDMain, 1, 3)
	r, err := b.NewReader(nil, 0)
	require.NoError(t, err)
	_, err = r.TryRead(1)
	require.NoError(t, err)

	b.Close()
	_, err = r.TryRead(1)
	require.ErrorIs(t, err, ErrReaderClosed)
	_, err = r.Read(context.Background(), 1)
	require.ErrorIs(t, err, ErrReaderClosed)
	r.Close()
	_, err = b.Log(chunk.LogIDMain, time.Now(), 1, 1, 1, nil)
	require.ErrorIs(t, err, ErrBufferClosed)
	_, err = b.NewReader(nil, 0)
	require.ErrorIs(t, err, ErrBufferClosed)
}
