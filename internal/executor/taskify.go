package executor

import (
	"context"

	"github.com/ternarybob/taskrunner/internal/journal"
)

// SimpleFunc is the natural shape of a per-executor implementation: it
// receives the task's journal snapshot and returns only its own patch,
// leaving the updated-flag and namespacing to Taskify.
type SimpleFunc func(ctx context.Context, rc *Context, key string, status journal.StatusData) (patch interface{}, err error)

type taskified struct {
	name string
	fn   SimpleFunc
}

// Taskify adapts a SimpleFunc into the uniform Executor contract. The
// resulting executor always reports updated=true on success; use the
// full Executor interface directly if an implementation needs to report
// a no-op success without bumping "<name>_last_run".
func Taskify(name string, fn SimpleFunc) Executor {
	return &taskified{name: name, fn: fn}
}

func (t *taskified) Name() string { return t.name }

func (t *taskified) Run(ctx context.Context, rc *Context, key string, status journal.StatusData) (interface{}, bool, error) {
	patch, err := t.fn(ctx, rc, key, status)
	if err != nil {
		return nil, false, err
	}
	return patch, true, nil
}
