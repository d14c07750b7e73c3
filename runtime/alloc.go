package runtime

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/script-runtime/errors"
)

// AbortFunc is the narrow interface behind which fail-fast behavior is
// isolated. The default writes the failure and exits the process. A
// conforming implementation must not return; an embedder substituting a
// recoverable policy (a test harness, a future OutOfMemory error path) can
// panic instead, and none of the gate, carrier, or guard logic changes.
type AbortFunc func(err *errors.Error)

func defaultAbort(err *errors.Error) {
	fmt.Fprintln(os.Stderr, "script-runtime: fatal: "+err.Error())
	os.Exit(2)
}

// allocShim is the single allocation hook feeding one engine instance. It
// accounts every engine-side allocation request against an optional byte
// budget. Within budget, requests proceed; over budget, the shim aborts
// rather than reporting a recoverable failure, so gate-protected sequences
// never need allocation rollback.
//
// The counter is atomic only because distinct instances may run on separate
// goroutines while sharing the process allocator underneath; one instance
// is still single-threaded.
type allocShim struct {
	used  atomic.Int64
	limit int64 // 0 means unlimited
	abort AbortFunc
	log   *zap.Logger
}

func newAllocShim(limit int64, abort AbortFunc, log *zap.Logger) *allocShim {
	return &allocShim{limit: limit, abort: abort, log: log}
}

// hook implements engine.Allocator.
func (a *allocShim) hook(size int) bool {
	used := a.used.Add(int64(size))
	if a.limit > 0 && used > a.limit {
		err := errors.Allocation(size)
		a.log.Error("allocation denied, aborting",
			zap.Int("size", size),
			zap.Int64("used", used),
			zap.Int64("limit", a.limit))
		a.abort(err)
		panic(err) // a conforming abort does not return
	}
	return true
}

// Used returns the total bytes requested so far.
func (a *allocShim) Used() int64 { return a.used.Load() }
