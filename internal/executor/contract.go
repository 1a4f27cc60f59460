// Package executor defines the abstract unit of work the scheduler drives
// per task - the Executor contract - along with the shared per-run
// Context bundle and the error-classification rules that decide whether
// an executor failure is recoverable (captured in the journal) or fatal
// (propagated to the caller).
package executor

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/ternarybob/taskrunner/internal/contentstore"
	"github.com/ternarybob/taskrunner/internal/journal"
	"github.com/ternarybob/taskrunner/internal/proxy"
)

// Executor is a named async unit that processes one task. Its name is
// the journal key under which its output and status land.
type Executor interface {
	// Name is the key under which Run's patch and status are stored in
	// the task's journal entry.
	Name() string

	// Run executes one step of the pipeline for key. patch is stored at
	// journal key Name() on success; updated indicates whether the call
	// performed real work (the scheduler stamps "<name>_last_run" only
	// when updated is true).
	Run(ctx context.Context, rc *Context, key string, status journal.StatusData) (patch interface{}, updated bool, err error)
}

// ForcedSet is the normalized set of executor names the caller asked to
// re-run even if already SUCCESS. The sentinel "all" forces every
// executor on every task.
type ForcedSet map[string]struct{}

// AllSentinel forces every executor regardless of name.
const AllSentinel = "all"

// NewForcedSet builds a ForcedSet from a name list.
func NewForcedSet(names []string) ForcedSet {
	s := make(ForcedSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Forces reports whether executor name should be (re-)run unconditionally.
func (f ForcedSet) Forces(name string) bool {
	if f == nil {
		return false
	}
	if _, ok := f[AllSentinel]; ok {
		return true
	}
	_, ok := f[name]
	return ok
}

// Context is the immutable per-run bundle of shared resources handed to
// every executor invocation. It is created once per Execute call and
// scoped to that call's lifetime.
type Context struct {
	// Dir is the working directory holding journal files and executor
	// scratch files.
	Dir string

	// Session is a pooled HTTP client shared read-only across all
	// workers. May be nil if no executor needs one.
	Session *http.Client

	// Forced is the normalized forced-executor set for this run.
	Forced ForcedSet

	// Proxies is the optional proxy provider available to scrape-style
	// executors. May be nil.
	Proxies proxy.Provider

	// ContentCache is the optional content-addressable cache scrape-style
	// executors consult before re-persisting a scratch file for a body
	// they've already seen. May be nil (disabled).
	ContentCache *contentstore.Store

	gate     chan struct{}
	entered  int64
	occupied int64
}

// NewContext builds a Context with a concurrency gate of the given
// capacity (already clamped by the caller).
func NewContext(dir string, session *http.Client, forced ForcedSet, p proxy.Provider, cache *contentstore.Store, capacity int) *Context {
	return &Context{
		Dir:          dir,
		Session:      session,
		Forced:       forced,
		Proxies:      p,
		ContentCache: cache,
		gate:         make(chan struct{}, capacity),
	}
}

// Acquire blocks until a concurrency gate slot is available or ctx is
// done. It is the single point of contention bounding parallelism.
func (c *Context) Acquire(ctx context.Context) error {
	select {
	case c.gate <- struct{}{}:
		atomic.AddInt64(&c.entered, 1)
		atomic.AddInt64(&c.occupied, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a concurrency gate slot acquired via Acquire.
func (c *Context) Release() {
	atomic.AddInt64(&c.occupied, -1)
	<-c.gate
}

// Occupied returns the number of workers currently past the gate -
// exposed so tests can assert the max_parallelism bound is honored.
func (c *Context) Occupied() int64 {
	return atomic.LoadInt64(&c.occupied)
}

// EnteredCount returns the total number of successful Acquire calls over
// the Context's lifetime.
func (c *Context) EnteredCount() int64 {
	return atomic.LoadInt64(&c.entered)
}
