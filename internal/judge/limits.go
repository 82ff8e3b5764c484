package judge

import (
	"bytes"
	"sync"
	"time"
)

// stderr is only kept for the failure reason
const stderrLimit = 64 << 10

// cappedBuffer keeps the first max bytes written to it and discards the
// rest. Writes never fail, so a flooding program is not stopped by a broken
// pipe before its time limit.
type cappedBuffer struct {
	buf      bytes.Buffer
	max      int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room >= len(p) {
		return b.buf.Write(p)
	}
	b.overflow = true
	if room > 0 {
		b.buf.Write(p[:room])
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }

// watchdog runs kill once limit has passed, unless stop was called first.
type watchdog struct {
	timer *time.Timer
	mu    sync.Mutex
	done  bool
	fired bool
}

func startWatchdog(limit time.Duration, kill func()) *watchdog {
	w := &watchdog{}
	w.timer = time.AfterFunc(limit, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.done {
			return
		}
		w.fired = true
		kill()
	})
	return w
}

// stop disarms the watchdog and reports whether kill ran. After stop
// returns, kill is never called.
func (w *watchdog) stop() bool {
	w.timer.Stop()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	return w.fired
}
