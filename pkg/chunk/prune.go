// pkg/chunk/prune.go

package chunk

// ClearResult describes what ClearUidLogs removed.
type ClearResult struct {
	LogID   LogID
	Empty   bool // no entry is left in the chunk
	Entries int
	Bytes   int
}

// ClearUidLogs removes every entry owned by uid, compacting the survivors in
// place. No reader may be attached.
func (c *LogChunk) ClearUidLogs(uid uint32, logID LogID) ClearResult {
	if c.readerRefCount != 0 {
		logger.Panicf("clear logs of uid %d while %d readers are attached", uid, c.readerRefCount)
	}
	res := ClearResult{LogID: logID}
	if c.writeOffset == 0 {
		res.Empty = true
		return res
	}

	c.acquire()
	data := c.contents.Data
	readOffset, newWriteOffset := 0, 0
	for readOffset < c.writeOffset {
		e := LogEntry(data[readOffset:])
		total := e.TotalLen()
		if e.Uid() == uid {
			res.Entries++
			res.Bytes += total
			readOffset += total
			continue
		}
		if readOffset != newWriteOffset {
			copy(data[newWriteOffset:], data[readOffset:readOffset+total])
		}
		readOffset += total
		newWriteOffset += total
	}

	if newWriteOffset != c.writeOffset {
		c.writeOffset = newWriteOffset
		c.invalidateSnapshot()
		if !c.writerActive {
			c.Compress()
		}
	}
	c.release()

	res.Empty = c.writeOffset == 0
	if res.Entries > 0 {
		logger.Debugf("cleared %d entries (%d bytes) of uid %d from %s chunk", res.Entries, res.Bytes, uid, logID)
	}
	return res
}
