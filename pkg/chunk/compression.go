// pkg/chunk/compression.go

package chunk

// Compress replaces the compressed snapshot with the current contents.
func (c *LogChunk) Compress() {
	if c.contents == nil {
		logger.Panicf("compress a chunk whose contents are dropped")
	}
	src := c.contents.Data[:c.writeOffset]
	if len(src) == 0 {
		c.compressed = nil
		c.compressedLen = 0
		c.compressedValid = true
		return
	}
	buf := make([]byte, c.compressor.CompressBound(len(src)))
	n, err := c.compressor.Compress(buf, src)
	if err != nil {
		logger.Panicf("compress %d bytes with %s: %s", len(src), c.compressor.Name(), err)
	}
	// keep only what was produced; buf may be much larger
	c.compressed = append(make([]byte, 0, n), buf[:n]...)
	c.compressedLen = len(src)
	c.compressedValid = true
	logger.Tracef("compressed chunk %d -> %d bytes (%s)", len(src), n, c.compressor.Name())
}

// Decompress rebuilds the contents as they were at the last Compress and
// returns them. It does not make them resident.
func (c *LogChunk) Decompress() []byte {
	if !c.compressedValid {
		logger.Panicf("decompress a chunk without a valid snapshot")
	}
	data := make([]byte, c.compressedLen)
	if c.compressedLen == 0 {
		return data
	}
	n, err := c.compressor.Decompress(data, c.compressed)
	if err != nil {
		logger.Panicf("decompress %d bytes with %s: %s", len(c.compressed), c.compressor.Name(), err)
	}
	if n != c.compressedLen {
		logger.Panicf("decompressed %d bytes, expect %d", n, c.compressedLen)
	}
	return data
}

// invalidateSnapshot drops a snapshot that no longer matches the contents.
func (c *LogChunk) invalidateSnapshot() {
	c.compressed = nil
	c.compressedLen = 0
	c.compressedValid = false
}

// SnapshotValid reports whether the compressed snapshot matches the contents.
func (c *LogChunk) SnapshotValid() bool {
	return c.compressedValid
}
