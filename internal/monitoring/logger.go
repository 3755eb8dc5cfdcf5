// Package monitoring holds the bridge's diagnostic logger and its
// prometheus metrics.
package monitoring

import (
	"fmt"
	"log"
	"sync/atomic"
)

type logFunc func(format string, v ...any)

var logger atomic.Pointer[logFunc]

func init() {
	SetLogger(log.Printf)
}

// Logf writes a diagnostic line through the current logger. It defaults to
// log.Printf and may be replaced with SetLogger at any time, including while
// sensor sessions are delivering batches.
func Logf(format string, v ...any) {
	(*logger.Load())(format, v...)
}

// Slotf logs with a "slot N: " prefix.
func Slotf(slot int, format string, v ...any) {
	Logf("slot %d: %s", slot, fmt.Sprintf(format, v...))
}

// SetLogger replaces the logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		f = func(string, ...any) {}
	}
	fn := logFunc(f)
	logger.Store(&fn)
}
