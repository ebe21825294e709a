// pkg/logbuffer/notifier.go

package logbuffer

import (
	"context"
	"sync"
	"time"
)

// notifier wakes every reader waiting for new entries. Like sync.Cond, but
// waiting can be bounded by a timeout or a context.
type notifier struct {
	L      sync.Locker
	signal chan struct{}
}

func newNotifier(lock sync.Locker) *notifier {
	return &notifier{lock, make(chan struct{})}
}

// Broadcast wakes up all the waiters. L must be held.
func (n *notifier) Broadcast() {
	close(n.signal)
	n.signal = make(chan struct{})
}

var timerPool = sync.Pool{
	New: func() interface{} {
		return time.NewTimer(time.Second)
	},
}

// WaitWithTimeout releases L until Broadcast is called, d elapsed or ctx is
// done, and returns true unless it was woken by Broadcast. L must be held.
func (n *notifier) WaitWithTimeout(ctx context.Context, d time.Duration) bool {
	signal := n.signal
	n.L.Unlock()
	t := timerPool.Get().(*time.Timer)
	t.Reset(d)
	defer func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		timerPool.Put(t)
	}()
	defer n.L.Lock()
	select {
	case <-signal:
		return false
	case <-t.C:
		return true
	case <-ctx.Done():
		return true
	}
}
