// Package scheduler implements the execute primitive: it materializes a
// task list, resolves parameters from the journal when absent, spawns
// one logical worker per task under a global concurrency cap, drives
// each task's executor pipeline in order, classifies errors, and returns
// the set of successfully completed task keys.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskrunner/internal/common"
	"github.com/ternarybob/taskrunner/internal/contentstore"
	"github.com/ternarybob/taskrunner/internal/executor"
	"github.com/ternarybob/taskrunner/internal/journal"
	"github.com/ternarybob/taskrunner/internal/proxy"
)

// Params is a single task's JSON-representable configuration.
type Params = map[string]interface{}

// Task pairs a Key with its Params for the admission form of a run.
type Task struct {
	Key    string
	Params Params
}

// TaskSet is the normalized, order-preserving input to Execute. Build
// one with Admit for new or resumed tasks whose Params are supplied by
// the caller, or Replay for tasks whose journal entry must already
// exist.
type TaskSet struct {
	entries []taskEntry
}

type taskEntry struct {
	key    string
	params Params // nil for replay-form entries
	replay bool
}

// Admit builds a TaskSet in admission form: each Key's journal entry is
// created (if absent) or left alone (if Params are already persisted -
// Params are frozen after first admission).
func Admit(tasks []Task) TaskSet {
	ts := TaskSet{entries: make([]taskEntry, 0, len(tasks))}
	for _, t := range tasks {
		ts.entries = append(ts.entries, taskEntry{key: t.Key, params: t.Params})
	}
	return ts
}

// Replay builds a TaskSet in replay form: every Key must already have a
// journal entry on disk, or it is reported failed (not crashed).
func Replay(keys []string) TaskSet {
	ts := TaskSet{entries: make([]taskEntry, 0, len(keys))}
	for _, k := range keys {
		ts.entries = append(ts.entries, taskEntry{key: k, replay: true})
	}
	return ts
}

// Options configures one Execute call.
type Options struct {
	// Timeout is the per-task wall-clock budget covering the entire
	// executor pipeline invocation for that task, not each step
	// individually. Defaults to 30s.
	Timeout time.Duration

	// ForceExecutors re-runs named executors even if already SUCCESS.
	// ["all"] forces every executor on every task.
	ForceExecutors []string

	// MaxParallelism bounds tasks simultaneously inside the executor
	// pipeline. Clamped to [1,100]; 0 uses the default of 10.
	MaxParallelism int

	// ProxyProvider is handed to executors via Context. Optional.
	ProxyProvider proxy.Provider

	// ContentCache is the optional content-addressable cache handed to
	// executors via Context. Optional.
	ContentCache *contentstore.Store

	Logger arbor.ILogger
}

const (
	defaultTimeout     = 30 * time.Second
	defaultParallelism = 10
	minParallelism     = 1
	maxParallelism     = 100
)

func clampParallelism(n int) int {
	if n <= 0 {
		return defaultParallelism
	}
	if n < minParallelism {
		return minParallelism
	}
	if n > maxParallelism {
		return maxParallelism
	}
	return n
}

// Execute runs tasks through executors in order, persisting progress to
// dir, and returns the keys whose pipeline ended with every executor in
// {SUCCESS, SKIPPED}. A fatal (unrecoverable) executor error aborts the
// run and is returned as err; in-flight tasks are given the chance to
// persist their current journal entry first.
func Execute(ctx context.Context, executors []executor.Executor, dir string, tasks TaskSet, opts Options) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = arbor.NewLogger()
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	rc := executor.NewContext(dir, nil, executor.NewForcedSet(opts.ForceExecutors), opts.ProxyProvider, opts.ContentCache, clampParallelism(opts.MaxParallelism))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		mu          sync.Mutex
		successKeys []string
		fatalErr    error
		fatalOnce   sync.Once
	)

	recordFatal := func(err error) {
		fatalOnce.Do(func() {
			mu.Lock()
			fatalErr = err
			mu.Unlock()
			cancelRun()
		})
	}

	var wg sync.WaitGroup
	for _, entry := range tasks.entries {
		entry := entry
		wg.Add(1)
		// The worker observes runCtx itself (gate acquisition, executors);
		// it is not handed to SafeGoWithContext, whose pre-start check
		// would skip fn - and with it wg.Done - on a cancelled context.
		common.SafeGoWithContext(context.Background(), logger, "scheduler-task-"+entry.key, func() {
			defer wg.Done()

			ok, err := runTask(runCtx, logger, executors, rc, timeout, entry)
			if err != nil {
				recordFatal(err)
				return
			}
			if ok {
				mu.Lock()
				successKeys = append(successKeys, entry.key)
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(successKeys)
	return successKeys, fatalErr
}

// runTask drives one task's executor pipeline. It returns ok=true when
// every executor ended in SUCCESS or SKIPPED, and a non-nil error only
// for an unrecoverable (fatal) failure that must abort the whole run.
func runTask(ctx context.Context, logger arbor.ILogger, executors []executor.Executor, rc *executor.Context, timeout time.Duration, entry taskEntry) (bool, error) {
	if err := rc.Acquire(ctx); err != nil {
		return false, nil
	}
	defer rc.Release()

	status, ok := resolveStatus(rc.Dir, entry)
	if !ok {
		logger.Warn().Str("key", entry.key).Msg("replay task has no existing journal entry - reported failed")
		return false, nil
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allSucceeded := true
	for _, ex := range executors {
		name := ex.Name()
		current := journal.ExecutorStatus(status, name)

		if current == journal.StatusSuccess && !rc.Forced.Forces(name) {
			status[journal.StatusKey(name)] = journal.StatusSkipped
			if err := journal.Save(rc.Dir, entry.key, status); err != nil {
				logger.Warn().Err(err).Str("key", entry.key).Str("executor", name).Msg("failed to persist skipped status")
			}
			continue
		}

		patch, updated, err := ex.Run(taskCtx, rc, entry.key, status)
		if err != nil {
			kind, recoverable := executor.Classify(err)
			if !recoverable {
				journal.Save(rc.Dir, entry.key, status)
				return false, err
			}

			status[journal.StatusKey(name)] = executor.FormatStatus(kind, err)
			status[journal.LastRunKey(name)] = nowString()
			if saveErr := journal.Save(rc.Dir, entry.key, status); saveErr != nil {
				logger.Warn().Err(saveErr).Str("key", entry.key).Str("executor", name).Msg("failed to persist error status")
			}
			logger.Warn().Str("key", entry.key).Str("executor", name).Str("kind", kind).Err(err).Msg("executor failed recoverably - aborting remaining steps for this task")
			allSucceeded = false
			break
		}

		if patch == nil {
			patch = map[string]interface{}{}
		}
		status[name] = patch
		status[journal.StatusKey(name)] = journal.StatusSuccess
		if updated {
			status[journal.LastRunKey(name)] = nowString()
		}
		if err := journal.Save(rc.Dir, entry.key, status); err != nil {
			logger.Warn().Err(err).Str("key", entry.key).Str("executor", name).Msg("failed to persist success status")
		}
	}

	return allSucceeded, nil
}

// resolveStatus loads or constructs the journal entry for entry,
// honoring admission-form Params-frozen semantics and replay-form's
// "must already exist" requirement.
func resolveStatus(dir string, entry taskEntry) (journal.StatusData, bool) {
	existing, exists, err := journal.Load(dir, entry.key)
	if err != nil {
		return nil, false
	}

	if entry.replay {
		if !exists {
			return nil, false
		}
		return existing, true
	}

	if exists {
		// Params are frozen after first admission - keep the persisted
		// entry (and any prior executor results) untouched.
		if journal.Params(existing) == nil && entry.params != nil {
			existing[journal.KeyParams] = entry.params
			journal.Save(dir, entry.key, existing)
		}
		return existing, true
	}

	fresh := journal.New(entry.key, entry.params)
	journal.Save(dir, entry.key, fresh)
	return fresh, true
}

const timestampLayout = "2006-01-02 15:04:05.000000"

func nowString() string {
	return time.Now().Format(timestampLayout)
}
