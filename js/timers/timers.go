// Package timers implements the runtime's timer queue: the engine behind
// setTimeout, setInterval and their clear counterparts.
package timers

import (
	"slices"
	"time"

	"github.com/grafana/sobek"
	"github.com/mstoykov/k6-taskqueue-lib/taskqueue"

	"github.com/tidaljs/tidal/js/eventloop"
	"github.com/tidaljs/tidal/js/modules"
)

// Timers keeps a queue of pending timeouts ordered by absolute fire time,
// with insertion sequence as the tie-break, so timers with identical fire
// times stay distinct entries and fire in enrollment order.
//
// Each pending timeout holds its VM callback through the runtime's
// async-handle table, so the reference stays alive until the timeout fires
// or is cancelled.
type Timers struct {
	vu modules.VU

	timerIDCounter uint64
	seqCounter     uint64

	// timers tracks the active ids; a missing id means the timer was
	// cancelled and any queued firing must be dropped.
	timers map[uint64]time.Time
	queue  *timerQueue

	// taskQueue serializes firings onto the event loop, as the head
	// time.AfterFunc goroutine is outside of it.
	taskQueue *taskqueue.TaskQueue
	// used to synchronize around context closing
	taskQueueCh chan struct{}
}

// New returns a timer engine for the given runtime.
func New(vu modules.VU) *Timers {
	return &Timers{
		vu:     vu,
		timers: make(map[uint64]time.Time),
		queue:  new(timerQueue),
	}
}

func (e *Timers) nextID() uint64 {
	e.timerIDCounter++
	return e.timerIDCounter
}

// Enroll schedules callback to run after delay milliseconds, repeating when
// repeat is set, and returns the timer id. Must be called on the loop.
func (e *Timers) Enroll(callback sobek.Callable, delay float64, repeat bool, args ...sobek.Value) uint64 {
	id := e.nextID()
	e.timerInitialization(callback, delay, args, repeat, id)
	return id
}

// Cancel removes a pending timer before it fires. Unknown or already-fired
// ids are ignored.
func (e *Timers) Cancel(id uint64) {
	_, exists := e.timers[id]
	if !exists {
		return
	}
	delete(e.timers, id)

	first := e.queue.first()
	if handleID := e.queue.remove(id); handleID != 0 {
		e.vu.AsyncHandles().Remove(handleID)
	}
	// removing the head leaves its wall-clock timer armed for the old fire
	// time; re-arm for the new head so the queue doesn't fire early
	if first != nil && first.id == id {
		e.queue.stopTimer()
		if e.queue.length() > 0 {
			e.setupTaskTimeout()
		}
	}
	e.freeEventLoopIfPossible()
}

func (e *Timers) freeEventLoopIfPossible() {
	if e.queue.length() == 0 && e.taskQueue != nil {
		e.closeTaskQueue()
	}
}

// https://html.spec.whatwg.org/multipage/timers-and-user-prompts.html#timer-initialisation-steps
func (e *Timers) timerInitialization(
	callback sobek.Callable, timeout float64, args []sobek.Value, repeat bool, id uint64,
) {
	if timeout < 0 {
		timeout = 0
	}

	handleID := e.vu.AsyncHandles().Enroll(eventloop.CallbackHandle{Fn: callback, Args: args})

	task := func() error {
		// 8.1: if id is no longer an active timer, the firing was cancelled.
		if _, exist := e.timers[id]; !exist {
			return nil
		}

		handle, ok := e.vu.AsyncHandles().Take(handleID)
		if !ok {
			return nil
		}
		err := eventloop.Settle(e.vu.Runtime(), handle, nil, nil)

		if _, exist := e.timers[id]; !exist { // 8.4: the callback cleared its own timer
			return err
		}

		if repeat && err == nil {
			e.timerInitialization(callback, timeout, args, repeat, id)
		} else {
			// a throwing interval is not re-armed; its id must leave the
			// active map so Cancel treats it as already fired
			delete(e.timers, id)
		}

		return err
	}

	e.seqCounter++
	e.runAfterTimeout(&timer{
		id:          id,
		handleID:    handleID,
		seq:         e.seqCounter,
		task:        task,
		nextTrigger: time.Now().Add(time.Duration(timeout * float64(time.Millisecond))),
	})
}

// https://html.spec.whatwg.org/multipage/timers-and-user-prompts.html#run-steps-after-a-timeout
func (e *Timers) runAfterTimeout(t *timer) {
	e.timers[t.id] = t.nextTrigger

	index := e.queue.add(t)
	if index != 0 {
		return // not a timer at the very beginning
	}

	e.setupTaskTimeout()
}

func (e *Timers) runFirstTask() error {
	if first := e.queue.first(); first != nil && time.Until(first.nextTrigger) > 0 {
		// a stale wall-clock firing (e.g. from a head timer cancelled after
		// it was armed); the current head isn't due yet, so just re-arm
		e.setupTaskTimeout()
		return nil
	}

	t := e.queue.pop()
	if t == nil {
		return nil // everything was cleared
	}

	err := t.task()

	if e.queue.length() > 0 {
		e.setupTaskTimeout()
	} else {
		e.freeEventLoopIfPossible()
	}

	return err
}

func (e *Timers) setupTaskTimeout() {
	e.queue.stopTimer()
	delay := -time.Since(e.timers[e.queue.first().id])
	if e.taskQueue == nil {
		e.taskQueue = taskqueue.New(e.vu.RegisterCallback)
		e.setupTaskQueueCloserOnRuntimeShutdown()
	}
	q := e.taskQueue
	e.queue.head = time.AfterFunc(delay, func() {
		q.Queue(e.runFirstTask)
	})
}

func (e *Timers) closeTaskQueue() {
	// this only runs on the event loop
	if e.taskQueueCh == nil {
		return
	}
	ch := e.taskQueueCh
	// so that we do not execute it twice
	e.taskQueueCh = nil

	select {
	case ch <- struct{}{}:
		// wait for the closer goroutine so the queue is gone before we
		// return control to the loop
		<-ch
	case <-e.vu.Context().Done():
	}
}

func (e *Timers) setupTaskQueueCloserOnRuntimeShutdown() {
	ctx := e.vu.Context()
	q := e.taskQueue
	ch := make(chan struct{})
	e.taskQueueCh = ch
	go func() {
		select { // wait for one of the two
		case <-ctx.Done():
			// the runtime is shutting down with timers still pending;
			// report them and reset for any subsequent use
			q.Queue(func() error {
				logger := e.vu.Logger()
				for _, timer := range e.queue.queue {
					logger.Warnf("timer %d was stopped because the runtime was shut down", timer.id)
					e.vu.AsyncHandles().Remove(timer.handleID)
				}

				clear(e.timers)
				e.queue.stopTimer()
				e.queue = new(timerQueue)
				e.taskQueue = nil
				return nil
			})
			q.Close()
		case <-ch:
			e.timers = make(map[uint64]time.Time)
			e.queue.stopTimer()
			e.queue = new(timerQueue)
			e.taskQueue = nil
			q.Close()
			close(ch)
		}
	}()
}

// timer is one pending timeout: identity, ordering key and its firing task.
type timer struct {
	id          uint64
	handleID    uint64
	seq         uint64
	nextTrigger time.Time
	task        func() error
}

// timerQueue holds pending timers ordered by (nextTrigger, seq); head is the
// wall-clock timer armed for the first entry.
type timerQueue struct {
	queue []*timer
	head  *time.Timer
}

func (tq *timerQueue) add(t *timer) int {
	i := slices.IndexFunc(tq.queue, func(tt *timer) bool {
		if tt.nextTrigger.Equal(t.nextTrigger) {
			return tt.seq > t.seq
		}
		return tt.nextTrigger.After(t.nextTrigger)
	})
	if i < 0 {
		i = len(tq.queue)
	}
	tq.queue = slices.Insert(tq.queue, i, t)
	return i
}

func (tq *timerQueue) stopTimer() {
	if tq.head != nil && tq.head.Stop() { // we have a timer and we stopped it before it fired
		select {
		case <-tq.head.C:
		default:
		}
	}
}

// remove drops the timer with the given id and returns its handle id, or 0
// when no such timer is pending.
func (tq *timerQueue) remove(id uint64) uint64 {
	var handleID uint64
	tq.queue = slices.DeleteFunc(tq.queue, func(t *timer) bool {
		if id == t.id {
			handleID = t.handleID
			return true
		}
		return false
	})
	return handleID
}

func (tq *timerQueue) pop() *timer {
	if len(tq.queue) == 0 {
		return nil
	}
	t := tq.queue[0]
	tq.queue = slices.Delete(tq.queue, 0, 1)
	return t
}

func (tq *timerQueue) length() int { return len(tq.queue) }

func (tq *timerQueue) first() *timer {
	if tq.length() == 0 {
		return nil
	}
	return tq.queue[0]
}
