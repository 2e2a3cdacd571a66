// Package eventloop implements the single-threaded event loop that tidal
// uses to reconcile native asynchronous completions with JavaScript promises
// and callbacks.
package eventloop

import (
	"fmt"
	"sync"

	"github.com/grafana/sobek"
	"github.com/sirupsen/logrus"
)

// An EventLoop serializes all VM-touching work onto one goroutine. Native
// code that wants to run something on the VM at a later point registers a
// callback and enqueues it when ready; the loop stays alive for as long as
// a registration is outstanding.
type EventLoop struct {
	lock                sync.Mutex
	queue               []func() error
	wakeupCh            chan struct{}
	registeredCallbacks int

	vm     *sobek.Runtime
	logger logrus.FieldLogger

	// pendingPromiseRejections are rejected promises with no rejection
	// handler, by insertion order.
	pendingPromiseRejections     map[*sobek.Promise]struct{}
	pendingPromiseRejectionsList []*sobek.Promise

	// claimedPromises are excluded from uncaught rejection reporting; their
	// claimer inspects their state itself.
	claimedPromises map[*sobek.Promise]struct{}
}

// New returns a new event loop bound to the given VM. It installs a promise
// rejection tracker so uncaught rejections can be reported when the loop
// winds down.
func New(vm *sobek.Runtime, logger logrus.FieldLogger) *EventLoop {
	e := &EventLoop{
		wakeupCh:                 make(chan struct{}, 1),
		vm:                       vm,
		logger:                   logger,
		pendingPromiseRejections: make(map[*sobek.Promise]struct{}),
		claimedPromises:          make(map[*sobek.Promise]struct{}),
	}
	vm.SetPromiseRejectionTracker(e.promiseRejectionTracker)
	return e
}

func (e *EventLoop) wakeup() {
	select {
	case e.wakeupCh <- struct{}{}:
	default:
	}
}

// RegisterCallback enrolls an async completion with the loop and returns its
// one-shot enqueue function. The loop will not exit before the enqueue
// function is called, and the enqueued function will execute on the loop
// goroutine. The enqueue function may be called from any goroutine.
func (e *EventLoop) RegisterCallback() func(func() error) {
	e.lock.Lock()
	var callbackCalled bool
	e.registeredCallbacks++
	e.lock.Unlock()

	return func(f func() error) {
		e.lock.Lock()
		if callbackCalled { // this is protected by the lock on the event loop
			e.lock.Unlock()
			panic("the enqueue function of a registered callback was called twice")
		}
		callbackCalled = true
		e.queue = append(e.queue, f)
		e.registeredCallbacks--
		e.lock.Unlock()
		e.wakeup()
	}
}

func (e *EventLoop) promiseRejectionTracker(p *sobek.Promise, op sobek.PromiseRejectionOperation) {
	// No locking necessary here as the tracker only gets called from the VM,
	// and we only call the VM from a single goroutine.
	if op == sobek.PromiseRejectionReject {
		if _, ok := e.claimedPromises[p]; ok {
			return
		}
		e.pendingPromiseRejections[p] = struct{}{}
		e.pendingPromiseRejectionsList = append(e.pendingPromiseRejectionsList, p)
	} else { // sobek.PromiseRejectionHandle - a previously rejected promise got a handler attached
		delete(e.pendingPromiseRejections, p)
	}
}

// ClaimPromise excludes p from uncaught rejection reporting for the rest of
// the current run. The claimer takes over inspecting the promise's eventual
// state, e.g. the evaluation promise of a module graph.
func (e *EventLoop) ClaimPromise(p *sobek.Promise) {
	e.claimedPromises[p] = struct{}{}
	delete(e.pendingPromiseRejections, p)
}

func (e *EventLoop) popAll() (queue []func() error, awaiting bool) {
	e.lock.Lock()
	queue = e.queue
	e.queue = make([]func() error, 0, len(queue))
	awaiting = e.registeredCallbacks != 0
	e.lock.Unlock()
	return
}

// Start runs the loop with firstCallback as the first job. It returns when
// the job queue is empty and no registered callback is outstanding, or as
// soon as a job returns an error. An uncaught promise rejection left over
// after a job also stops the loop with an error.
//
// The loop is not reentrant; Start must not be called from a running job.
func (e *EventLoop) Start(firstCallback func() error) error {
	e.queue = []func() error{firstCallback}
	// rejections left over from a previously aborted run were already
	// reported with that run's error; don't resurface them here
	clear(e.pendingPromiseRejections)
	clear(e.claimedPromises)
	e.pendingPromiseRejectionsList = e.pendingPromiseRejectionsList[:0]
	for {
		queue, awaiting := e.popAll()

		if len(queue) == 0 {
			if !awaiting {
				return nil
			}
			<-e.wakeupCh
			continue
		}

		for _, f := range queue {
			if err := f(); err != nil {
				return err
			}
		}

		// The VM drained its microtask queue during the jobs above, so any
		// rejection without a handler by now is truly uncaught.
		if err := e.uncaughtRejectionError(); err != nil {
			return err
		}
	}
}

// WaitOnRegistered waits for all registered callbacks to get enqueued and
// runs them, logging instead of returning their errors. It is used to clean
// up the loop after a run that ended with an error.
func (e *EventLoop) WaitOnRegistered() {
	for {
		queue, awaiting := e.popAll()

		if len(queue) == 0 {
			if !awaiting {
				return
			}
			<-e.wakeupCh
			continue
		}

		for _, f := range queue {
			if err := f(); err != nil {
				e.logger.WithError(err).Error("error while cleaning up the event loop")
			}
		}
	}
}

func (e *EventLoop) uncaughtRejectionError() error {
	// entries are consumed as they are scanned, so a reported rejection
	// can't resurface on a later check
	for len(e.pendingPromiseRejectionsList) > 0 {
		p := e.pendingPromiseRejectionsList[0]
		e.pendingPromiseRejectionsList = e.pendingPromiseRejectionsList[1:]
		if _, ok := e.pendingPromiseRejections[p]; !ok {
			continue // a handler got attached in the meantime
		}
		delete(e.pendingPromiseRejections, p)

		value := p.Result()
		stack := ""
		if o := value.ToObject(e.vm); o != nil {
			if s := o.Get("stack"); s != nil {
				stack = "\n" + s.String()
			}
		}
		return fmt.Errorf("Uncaught (in promise) %s%s", value, stack) //nolint:stylecheck
	}
	return nil
}
