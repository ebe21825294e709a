// pkg/chunk/chunk.go

package chunk

import (
	"fmt"
	"strings"

	"AveLog/pkg/utils"
)

var logger = utils.GetLogger("avelog")

// LogID identifies a log stream.
type LogID uint8

const (
	LogIDMain LogID = iota
	LogIDRadio
	LogIDEvents
	LogIDSystem
	LogIDCrash
	LogIDStats
	LogIDSecurity
	LogIDKernel
	LogIDMax
)

var logIDNames = [LogIDMax]string{"main", "radio", "events", "system", "crash", "stats", "security", "kernel"}

func (id LogID) String() string {
	if id < LogIDMax {
		return logIDNames[id]
	}
	return fmt.Sprintf("logid(%d)", uint8(id))
}

// Valid reports whether id names a known log stream.
func (id LogID) Valid() bool {
	return id < LogIDMax
}

// ParseLogID returns the LogID named s.
func ParseLogID(s string) (LogID, error) {
	for i, n := range logIDNames {
		if strings.EqualFold(n, s) {
			return LogID(i), nil
		}
	}
	return LogIDMax, fmt.Errorf("unknown log id %q", s)
}

// ReaderID is an opaque key for a reader attached to a chunk.
type ReaderID uint64

// PruneNotifier is implemented by readers that stream from chunks. Prune is
// called, with the buffer lock held, when entries of logID are about to be
// removed from a chunk the reader is attached to.
type PruneNotifier interface {
	Prune(logID LogID)
}
