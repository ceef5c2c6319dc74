// Package coretest provides in-memory doubles for the core collaborator interfaces.
package coretest

import (
	"sync"
	"time"
)

// Executor is a hand-cranked core.Executor. Nothing runs until the test asks.
type Executor struct {
	mu     sync.Mutex
	tasks  []func()
	work   []func() func()
	timers []*timer
}

type timer struct {
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func NewExecutor() *Executor { return &Executor{} }

func (e *Executor) Post(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, fn)
}

func (e *Executor) Go(work func() func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.work = append(e.work, work)
}

func (e *Executor) AfterFunc(d time.Duration, fn func()) func() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &timer{d: d, fn: fn}
	e.timers = append(e.timers, t)
	return func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

// RunTasks runs posted tasks, including ones posted meanwhile, until none are left.
func (e *Executor) RunTasks() int {
	n := 0
	for {
		e.mu.Lock()
		batch := e.tasks
		e.tasks = nil
		e.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// RunWork runs pending off-loop work and queues its continuations.
func (e *Executor) RunWork() int {
	e.mu.Lock()
	batch := e.work
	e.work = nil
	e.mu.Unlock()
	for _, w := range batch {
		if then := w(); then != nil {
			e.Post(then)
		}
	}
	return len(batch)
}

// Settle alternates work and tasks until both queues are empty.
func (e *Executor) Settle() {
	for e.RunWork()+e.RunTasks() > 0 {
	}
}

// PendingWork reports queued off-loop work.
func (e *Executor) PendingWork() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.work)
}

// ActiveTimers returns the durations of timers that are neither stopped nor fired.
func (e *Executor) ActiveTimers() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []time.Duration
	for _, t := range e.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.d)
		}
	}
	return out
}

// FireTimers fires every active timer and settles.
func (e *Executor) FireTimers() {
	e.mu.Lock()
	var due []*timer
	for _, t := range e.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	e.mu.Unlock()
	for _, t := range due {
		e.Post(t.fn)
	}
	e.Settle()
}
