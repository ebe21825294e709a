// pkg/logbuffer/config.go

package logbuffer

import (
	"AveLog/pkg/chunk"
	"AveLog/pkg/compress"

	"github.com/pkg/errors"
)

const (
	minLogSize   = 64 << 10
	maxLogSize   = 32 << 20
	minChunkSize = 1 << 10
)

// Config for a LogBuffer.
type Config struct {
	MaxSize         int64                 // byte limit of each log id
	MaxSizes        map[chunk.LogID]int64 // per log id overrides of MaxSize
	ChunkSize       int                   // 0 means a quarter of the log id's limit
	Compression     string                // lz4, zstd or none
	ReaderRateLimit int64                 // bytes per second handed to each reader, 0 for unlimited
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() *Config {
	return &Config{
		MaxSize:     256 << 10,
		Compression: "zstd",
	}
}

func validSize(size int64) bool {
	return size >= minLogSize && size <= maxLogSize
}

// Validate checks the limits and the compression algorithm.
func (c *Config) Validate() error {
	if !validSize(c.MaxSize) {
		return errors.Errorf("invalid log size %d, should be in [%d, %d]", c.MaxSize, minLogSize, maxLogSize)
	}
	for id, size := range c.MaxSizes {
		if !id.Valid() {
			return errors.Errorf("invalid log id %d", id)
		}
		if !validSize(size) {
			return errors.Errorf("invalid size %d of log %s", size, id)
		}
	}
	if c.ChunkSize != 0 && (c.ChunkSize < minChunkSize || int64(c.ChunkSize) > c.MaxSize) {
		return errors.Errorf("invalid chunk size %d", c.ChunkSize)
	}
	if compress.NewCompressor(c.Compression) == nil {
		return errors.Errorf("unsupported compress algorithm: %s", c.Compression)
	}
	if c.ReaderRateLimit < 0 {
		return errors.Errorf("invalid reader rate limit %d", c.ReaderRateLimit)
	}
	return nil
}

func (c *Config) maxSize(id chunk.LogID) int64 {
	if s, ok := c.MaxSizes[id]; ok {
		return s
	}
	return c.MaxSize
}
