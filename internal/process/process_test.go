package process

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crucible/internal/heap"
	"crucible/internal/interp"
	"crucible/internal/object"
	"crucible/internal/species"
	"crucible/internal/value"
)

func newTestModel(t *testing.T) (*object.Model, *object.WellKnownKeys) {
	t.Helper()
	reg := species.NewRegistry()
	h := heap.New(heap.Config{SemispaceSizeBytes: 1 << 16}, nil)
	m := object.NewModel(h, reg)
	wk, cond := m.NewWellKnownKeys()
	require.False(t, cond.IsCondition())
	return m, wk
}

// echoCodeBlock builds a code block that reads its sole raw argument and
// returns it unchanged: LoadRawArgument 0; Return.
func echoCodeBlock(t *testing.T, m *object.Model) value.Value {
	t.Helper()
	b := interp.NewBuilder()
	b.Emit(interp.OpLoadRawArgument, 0)
	b.Emit(interp.OpReturn)
	code, cond := b.Build(m, 4)
	require.False(t, cond.IsCondition())
	return code
}

func TestTaskRunCodeBlockEchoesArgument(t *testing.T) {
	m, wk := newTestModel(t)
	task, cond := NewTask(m, wk)
	require.False(t, cond.IsCondition())

	code := echoCodeBlock(t, m)
	result, cond := task.RunCodeBlock(code, value.NewInteger(7))
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(7), result)
}

func TestTaskRunCodeBlockTwiceReusesStackWithoutLeaking(t *testing.T) {
	m, wk := newTestModel(t)
	task, cond := NewTask(m, wk)
	require.False(t, cond.IsCondition())
	code := echoCodeBlock(t, m)

	r1, cond := task.RunCodeBlock(code, value.NewInteger(1))
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(1), r1)

	r2, cond := task.RunCodeBlock(code, value.NewInteger(2))
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(2), r2)
}

func TestProcessOfferAndTakeJobFIFOOrder(t *testing.T) {
	m, wk := newTestModel(t)
	p, cond := NewProcess(m, wk, 1, 8)
	require.False(t, cond.IsCondition())

	code := echoCodeBlock(t, m)
	require.False(t, p.OfferJob(Job{Code: code, Data: value.NewInteger(1), Promise: value.Nothing, Guard: value.Nothing}).IsCondition())
	require.False(t, p.OfferJob(Job{Code: code, Data: value.NewInteger(2), Promise: value.Nothing, Guard: value.Nothing}).IsCondition())

	job1, cond := p.TakeJob()
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(1), job1.Data)

	job2, cond := p.TakeJob()
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(2), job2.Data)

	_, cond = p.TakeJob()
	require.True(t, cond.IsCondition())
}

func TestProcessTakeJobSkipsUnresolvedGuard(t *testing.T) {
	m, wk := newTestModel(t)
	p, cond := NewProcess(m, wk, 1, 8)
	require.False(t, cond.IsCondition())

	guard, cond := m.NewPromise()
	require.False(t, cond.IsCondition())

	code := echoCodeBlock(t, m)
	require.False(t, p.OfferJob(Job{Code: code, Data: value.NewInteger(1), Promise: value.Nothing, Guard: guard}).IsCondition())
	require.False(t, p.OfferJob(Job{Code: code, Data: value.NewInteger(2), Promise: value.Nothing, Guard: value.Nothing}).IsCondition())

	// Job 1's guard is still pending, so TakeJob must skip it and return
	// job 2 first (spec.md 4.5's take_process_job).
	job, cond := p.TakeJob()
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(2), job.Data)

	m.Fulfill(guard, value.Nothing)
	job, cond = p.TakeJob()
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(1), job.Data)
}

func TestProcessIsIdleTracksQueueAndAirlock(t *testing.T) {
	m, wk := newTestModel(t)
	p, cond := NewProcess(m, wk, 1, 8)
	require.False(t, cond.IsCondition())
	require.True(t, p.IsIdle())

	code := echoCodeBlock(t, m)
	require.False(t, p.OfferJob(Job{Code: code, Data: value.NewInteger(1), Promise: value.Nothing, Guard: value.Nothing}).IsCondition())
	require.False(t, p.IsIdle())

	ran, cond := p.RunNextJob()
	require.True(t, ran)
	require.False(t, cond.IsCondition())
	require.True(t, p.IsIdle())

	p.Airlock.BeginRequest()
	require.False(t, p.IsIdle())
}

func TestProcessRunNextJobFulfillsPromise(t *testing.T) {
	m, wk := newTestModel(t)
	p, cond := NewProcess(m, wk, 1, 8)
	require.False(t, cond.IsCondition())

	promise, cond := m.NewPromise()
	require.False(t, cond.IsCondition())
	code := echoCodeBlock(t, m)
	require.False(t, p.OfferJob(Job{Code: code, Data: value.NewInteger(42), Promise: promise, Guard: value.Nothing}).IsCondition())

	ran, cond := p.RunNextJob()
	require.True(t, ran)
	require.False(t, cond.IsCondition())
	require.Equal(t, value.PromiseFulfilled, m.PromiseState(promise))
	require.Equal(t, value.NewInteger(42), m.PromiseResolution(promise))
}

func TestProcessDeliverOutstandingResultsFulfillsAirlockPromises(t *testing.T) {
	m, wk := newTestModel(t)
	p, cond := NewProcess(m, wk, 1, 8)
	require.False(t, cond.IsCondition())

	promise, cond := m.NewPromise()
	require.False(t, cond.IsCondition())
	p.Airlock.BeginRequest()
	p.Airlock.OfferResult(NativeResult{Promise: promise, Result: value.NewInteger(99)})

	require.False(t, p.IsIdle())
	p.DeliverOutstandingResults()
	require.Equal(t, value.PromiseFulfilled, m.PromiseState(promise))
	require.True(t, p.IsIdle())
}
