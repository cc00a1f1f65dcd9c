// Package process implements spec.md 4.5's Process/Task/Airlock execution
// model: a Process owns a FIFO work queue of jobs, a root Task with its own
// Stack, a hash source for identity hashes, and a native airlock through
// which worker threads deliver completed I/O results back to the
// interpreter thread.
//
// Grounded on the teacher's internal/concurrency/concurrency.go worker-pool
// and semaphore-backed primitives, retargeted from the teacher's generic
// job/worker-pool abstraction to spec.md 4.5's specific process model
// (single interpreter thread per process, a mutex-plus-two-semaphores
// airlock, a guard-gated work queue) and original_source/src/c/process.c's
// take_process_job/is_process_idle/airlock machinery, which the teacher has
// no equivalent for.
package process

import (
	"crucible/internal/object"
	"crucible/internal/value"
)

// Job is one unit of work a Process's work queue holds: a code block to
// run, the data it closes over, an optional promise to fulfill with its
// result, and an optional guard promise gating when it becomes runnable
// (spec.md 4.5; original_source's job_t).
type Job struct {
	Code    value.Value
	Data    value.Value
	Promise value.Value
	Guard   value.Value
}

const jobWidth = 4

// Process owns one interpreter thread's execution state: a FIFO work
// queue, a root Task, a hash source, and an airlock for asynchronous
// native-request results (spec.md 4.5).
type Process struct {
	Model *object.Model

	workQueue value.Value // FifoBuffer, width jobWidth
	HashSource value.Value
	Airlock   *Airlock
	RootTask  *Task

	// TerminateWhenIdle is set by shutdown requests; the I/O engine drains
	// and exits once this process goes idle (spec.md 4.5's "Cancellation
	// and timeouts").
	TerminateWhenIdle bool

	// jobInFlight is true while take_process_job's dequeued job is
	// executing, per the supplemented idle-detection rule: a process is
	// idle only once no job is currently executing, not merely once the
	// queue drains (original_source's finalize_process/run_code_block
	// dependency, recorded in SPEC_FULL.md's supplemented features).
	jobInFlight bool
}

// NewProcess allocates a fresh process: an empty work queue, a seeded hash
// source, a new airlock, and a root Task bound to wk.
func NewProcess(m *object.Model, wk *object.WellKnownKeys, hashSeed uint32, airlockCapacity int) (*Process, value.Value) {
	wq, cond := m.NewFifoBuffer(jobWidth, 16)
	if cond.IsCondition() {
		return nil, cond
	}
	hs, cond := m.NewHashSource(hashSeed)
	if cond.IsCondition() {
		return nil, cond
	}
	task, cond := NewTask(m, wk)
	if cond.IsCondition() {
		return nil, cond
	}
	return &Process{
		Model:      m,
		workQueue:  wq,
		HashSource: hs,
		Airlock:    NewAirlock(airlockCapacity),
		RootTask:   task,
	}, value.Value{}
}

// OfferJob enqueues job at the tail of p's work queue (spec.md 4.5's
// offer_process_job).
func (p *Process) OfferJob(job Job) value.Value {
	return p.Model.FifoOffer(p.workQueue, []value.Value{job.Code, job.Data, job.Promise, job.Guard})
}

// TakeJob scans the work queue for the first job whose guard is resolved
// (or absent), dequeues it, and returns it. Returns a CauseNotFound
// condition if no job is currently runnable (spec.md 4.5's
// take_process_job).
func (p *Process) TakeJob() (Job, value.Value) {
	var found Job
	var ok bool
	p.Model.FifoIterate(p.workQueue, func(values []value.Value) bool {
		if ok {
			return false
		}
		guard := values[3]
		if guard.IsNothing() || p.Model.PromiseState(guard) != value.PromisePending {
			found = Job{Code: values[0], Data: values[1], Promise: values[2], Guard: values[3]}
			ok = true
			return true
		}
		return false
	})
	if !ok {
		return Job{}, value.NewCondition(value.CauseNotFound, 0)
	}
	return found, value.Value{}
}

// IsIdle reports whether p has no runnable work: its work queue is empty,
// its airlock has no outstanding native requests, and no job is currently
// executing (spec.md 4.5's is_process_idle, extended per the supplemented
// in-flight check above).
func (p *Process) IsIdle() bool {
	if p.jobInFlight {
		return false
	}
	empty := true
	p.Model.FifoIterate(p.workQueue, func(values []value.Value) bool {
		empty = false
		return false
	})
	return empty && p.Airlock.OpenRequestCount() == 0
}

// DeliverOutstandingResults drains every result currently sitting in p's
// airlock, fulfilling or rejecting the associated promise for each (spec.md
// 4.5's "between jobs the interpreter drains them, fulfilling the
// associated promises"; original_source's deliver_process_outstanding_results).
func (p *Process) DeliverOutstandingResults() {
	for _, r := range p.Airlock.DrainAll() {
		if r.IsError {
			p.Model.Reject(r.Promise, r.Result)
		} else {
			p.Model.Fulfill(r.Promise, r.Result)
		}
	}
}

// RunNextJob takes the next runnable job, if any, bootstraps it onto the
// root task's stack, and runs it to completion, fulfilling its promise
// (if any) with the result or failure. Returns false if no job was
// runnable.
func (p *Process) RunNextJob() (bool, value.Value) {
	job, cond := p.TakeJob()
	if cond.IsCondition() {
		return false, value.Value{}
	}
	p.jobInFlight = true
	defer func() { p.jobInFlight = false }()

	result, runCond := p.RootTask.RunCodeBlock(job.Code, job.Data)
	if !job.Promise.IsNothing() {
		if runCond.IsCondition() {
			p.Model.Reject(job.Promise, runCond)
		} else {
			p.Model.Fulfill(job.Promise, result)
		}
	}
	return true, runCond
}
