package executor

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/taskrunner/internal/journal"
)

func TestForcedSetForcesNamedExecutorOnly(t *testing.T) {
	f := NewForcedSet([]string{"scraper"})
	assert.True(t, f.Forces("scraper"))
	assert.False(t, f.Forces("extract"))
}

func TestForcedSetAllSentinelForcesEverything(t *testing.T) {
	f := NewForcedSet([]string{AllSentinel})
	assert.True(t, f.Forces("scraper"))
	assert.True(t, f.Forces("anything"))
}

func TestForcedSetNilForcesNothing(t *testing.T) {
	var f ForcedSet
	assert.False(t, f.Forces("scraper"))
}

func TestContextAcquireBoundsConcurrency(t *testing.T) {
	rc := NewContext(t.TempDir(), nil, nil, nil, nil, 2)

	require.NoError(t, rc.Acquire(context.Background()))
	require.NoError(t, rc.Acquire(context.Background()))
	assert.EqualValues(t, 2, rc.Occupied())

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, rc.Acquire(context.Background()))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third Acquire should have blocked at capacity 2")
	case <-time.After(20 * time.Millisecond):
	}

	rc.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third Acquire never unblocked after Release")
	}
	assert.EqualValues(t, 2, rc.Occupied())
	assert.EqualValues(t, 3, rc.EnteredCount())
}

func TestContextAcquireRespectsContextCancellation(t *testing.T) {
	rc := NewContext(t.TempDir(), nil, nil, nil, nil, 1)
	require.NoError(t, rc.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rc.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyRuntimeErrorIsRecoverable(t *testing.T) {
	kind, recoverable := Classify(NewRuntimeError("bad status %d", 500))
	assert.Equal(t, "RuntimeError", kind)
	assert.True(t, recoverable)
}

func TestClassifyDeadlineExceededIsTimeoutError(t *testing.T) {
	kind, recoverable := Classify(context.DeadlineExceeded)
	assert.Equal(t, "TimeoutError", kind)
	assert.True(t, recoverable)
}

func TestClassifyCanceledIsCancelledError(t *testing.T) {
	kind, recoverable := Classify(context.Canceled)
	assert.Equal(t, "CancelledError", kind)
	assert.True(t, recoverable)
}

func TestClassifyNetOpErrorIsOSError(t *testing.T) {
	kind, recoverable := Classify(&net.OpError{Op: "dial", Err: errors.New("refused")})
	assert.Equal(t, "OSError", kind)
	assert.True(t, recoverable)
}

func TestClassifyUnknownErrorIsFatal(t *testing.T) {
	kind, recoverable := Classify(errors.New("something unrelated"))
	assert.Equal(t, "", kind)
	assert.False(t, recoverable)
}

func TestFormatStatusBuildsErrorPrefix(t *testing.T) {
	status := FormatStatus("RuntimeError", NewRuntimeError("HTTP response 500"))
	assert.Equal(t, "ERROR RuntimeError::HTTP response 500", status)
}

func TestTaskifyReportsUpdatedTrueOnSuccess(t *testing.T) {
	ex := Taskify("thing", func(ctx context.Context, rc *Context, key string, status journal.StatusData) (interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	})

	assert.Equal(t, "thing", ex.Name())
	patch, updated, err := ex.Run(context.Background(), nil, "k", journal.New("k", nil))
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, map[string]interface{}{"ok": true}, patch)
}

func TestTaskifyPropagatesError(t *testing.T) {
	wantErr := NewRuntimeError("nope")
	ex := Taskify("thing", func(ctx context.Context, rc *Context, key string, status journal.StatusData) (interface{}, error) {
		return nil, wantErr
	})

	patch, updated, err := ex.Run(context.Background(), nil, "k", journal.New("k", nil))
	assert.Nil(t, patch)
	assert.False(t, updated)
	assert.Equal(t, wantErr, err)
}

func TestContextConcurrentAcquireReleaseNeverExceedsCapacity(t *testing.T) {
	rc := NewContext(t.TempDir(), nil, nil, nil, nil, 3)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, rc.Acquire(context.Background()))
			assert.LessOrEqual(t, rc.Occupied(), int64(3))
			time.Sleep(time.Millisecond)
			rc.Release()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 0, rc.Occupied())
	assert.EqualValues(t, 20, rc.EnteredCount())
}
