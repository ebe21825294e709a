// cmd/bench.go

package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"AveLog/pkg/chunk"
	"AveLog/pkg/logbuffer"
	"AveLog/pkg/meta"
	"AveLog/pkg/stats"
	"AveLog/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/urfave/cli/v2"
)

func benchFlags() *cli.Command {
	return &cli.Command{
		Name:      "bench",
		Usage:     "run a synthetic load against an in-memory log buffer",
		ArgsUsage: " ",
		Action:    bench,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "logs",
				Value: "main,system",
				Usage: "comma separated log ids to write to",
			},
			&cli.IntFlag{
				Name:  "entries",
				Value: 100000,
				Usage: "number of entries to write",
			},
			&cli.IntFlag{
				Name:  "uids",
				Value: 16,
				Usage: "number of distinct uids writing",
			},
			&cli.IntFlag{
				Name:  "msg-size",
				Value: 120,
				Usage: "average size of a message in bytes",
			},
			&cli.IntFlag{
				Name:  "readers",
				Value: 2,
				Usage: "number of concurrent readers",
			},
			&cli.Int64Flag{
				Name:  "max-size",
				Value: 256 << 10,
				Usage: "byte limit of each log id",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "size of a chunk in bytes (default a quarter of max-size)",
			},
			&cli.StringFlag{
				Name:  "compress",
				Value: "zstd",
				Usage: "compression algorithm of finished chunks (lz4, zstd, none)",
			},
			&cli.Int64Flag{
				Name:  "reader-bwlimit",
				Usage: "bytes per second handed to each reader (0 means unlimited)",
			},
			&cli.StringFlag{
				Name:  "quota-url",
				Usage: "META-URL to load per uid quotas from",
			},
			&cli.StringFlag{
				Name:  "metrics-listen",
				Usage: "address to export metrics on, e.g. 127.0.0.1:9567",
			},
			&cli.IntFlag{
				Name:  "top",
				Value: 5,
				Usage: "number of top uids to report per log id",
			},
		},
	}
}

type benchSummary struct {
	RunID           string             `json:"run_id"`
	Entries         int                `json:"entries"`
	Bytes           string             `json:"bytes"`
	Seconds         float64            `json:"seconds"`
	EntriesPerSec   float64            `json:"entries_per_sec"`
	Read            int64              `json:"read"`
	Skipped         int                `json:"skipped"`
	MemoryUsage     map[string]int64   `json:"memory_usage"`
	Chunks          map[string]int     `json:"chunks"`
	CompressedRatio map[string]float64 `json:"compressed_ratio"`
	Usage           []stats.LogUsage   `json:"usage"`
	Utime           float64            `json:"utime"`
	Stime           float64            `json:"stime"`
	MaxRSS          int64              `json:"max_rss_kib"`
}

func parseLogIDs(s string) ([]chunk.LogID, error) {
	var ids []chunk.LogID
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		id, err := chunk.ParseLogID(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no log id in %q", s)
	}
	return ids, nil
}

func bench(c *cli.Context) error {
	ids, err := parseLogIDs(c.String("logs"))
	if err != nil {
		return err
	}
	total := c.Int("entries")
	uids := c.Int("uids")
	if total <= 0 || uids <= 0 {
		return fmt.Errorf("entries and uids should be > 0")
	}
	msgSize := utils.Min(c.Int("msg-size"), chunk.MaxPayload)
	if msgSize <= 0 {
		return fmt.Errorf("msg-size should be > 0")
	}

	conf := &logbuffer.Config{
		MaxSize:         c.Int64("max-size"),
		ChunkSize:       c.Int("chunk-size"),
		Compression:     c.String("compress"),
		ReaderRateLimit: c.Int64("reader-bwlimit"),
	}
	metrics := logbuffer.NewMetrics()
	b, err := logbuffer.New(conf, nil, metrics)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	if url := c.String("quota-url"); url != "" {
		store, err := meta.NewClient(url, &meta.Config{Retries: 3, ReadOnly: true})
		if err != nil {
			return err
		}
		err = b.LoadQuotas(ctx, store)
		_ = store.Close()
		if err != nil {
			return err
		}
	}
	if addr := c.String("metrics-listen"); addr != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
		go func() {
			if err := http.ListenAndServe(addr, router); err != nil {
				logger.Errorf("serve metrics on %s: %s", addr, err)
			}
		}()
		logger.Infof("metrics are exported on %s/metrics", addr)
	}

	runID := uuid.New().String()
	logger.Infof("bench %s: %d entries of ~%d bytes from %d uids into %v", runID, total, msgSize, uids, ids)

	var read int64
	var skipped int
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < c.Int("readers"); i++ {
		r, err := b.NewReader(ids, 0)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.Close()
			for {
				out, err := r.Read(ctx, 256)
				if err != nil {
					mu.Lock()
					skipped += r.Skipped()
					mu.Unlock()
					return
				}
				atomic.AddInt64(&read, int64(len(out)))
			}
		}()
	}

	progress, bar := utils.NewProgressBar("writing entries: ", int64(total), c.Bool("quiet"))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	msg := make([]byte, msgSize*2)
	for i := range msg {
		msg[i] = "abcdefghijklmnopqrstuvwxyz     "[rng.Intn(31)]
	}
	var written uint64
	start := time.Now()
	for i := 0; i < total; i++ {
		id := ids[i%len(ids)]
		uid := uint32(10000 + rng.Intn(uids))
		n := utils.Min(msgSize/2+rng.Intn(msgSize), chunk.MaxPayload)
		if _, err := b.Log(id, time.Now(), uid, uid, uid+uint32(i%4), msg[:n]); err != nil {
			bar.Abort(false)
			progress.Wait()
			return err
		}
		written += uint64(chunk.HeaderSize + n)
		bar.Increment()
	}
	elapsed := time.Since(start)
	progress.Wait()

	// let readers catch up before stopping them
	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	ru := utils.GetRusage()
	summary := benchSummary{
		RunID:           runID,
		Entries:         total,
		Bytes:           utils.FormatBytes(written),
		Seconds:         elapsed.Seconds(),
		EntriesPerSec:   float64(total) / elapsed.Seconds(),
		Read:            atomic.LoadInt64(&read),
		Skipped:         skipped,
		MemoryUsage:     make(map[string]int64),
		Chunks:          make(map[string]int),
		CompressedRatio: make(map[string]float64),
		Usage:           b.Statistics().Snapshot(c.Int("top")),
		Utime:           ru.GetUtime(),
		Stime:           ru.GetStime(),
		MaxRSS:          ru.MaxRSS(),
	}
	for _, id := range ids {
		summary.MemoryUsage[id.String()] = b.MemoryUsage(id)
		summary.Chunks[id.String()] = b.ChunkCount(id)
		summary.CompressedRatio[id.String()] = b.CompressedRatio(id)
	}
	printJson(summary)
	return nil
}
