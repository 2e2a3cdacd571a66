package eventloop

import (
	"fmt"

	"github.com/grafana/sobek"
)

// AsyncHandle is a durable reference to a pending JavaScript completion
// target - a promise resolver or a callback function - kept alive by the
// handle table until its native operation completes.
//
// It is a closed union: the only implementations are PromiseHandle and
// CallbackHandle, and delivery dispatches on the variant.
type AsyncHandle interface {
	asyncHandle()
}

// PromiseHandle completes a JavaScript promise.
type PromiseHandle struct {
	Resolve func(result interface{})
	Reject  func(reason interface{})
}

func (PromiseHandle) asyncHandle() {}

// CallbackHandle completes by invoking a JavaScript callback.
type CallbackHandle struct {
	Fn   sobek.Callable
	Args []sobek.Value
}

func (CallbackHandle) asyncHandle() {}

// Handles is the table of pending async completions, keyed by monotonically
// allocated ids. Keys are never reused within a runtime's lifetime, so a
// stale id can't alias a live handle.
//
// The table is part of the single-threaded runtime state: every method must
// be called from the loop goroutine.
type Handles struct {
	nextID  uint64
	pending map[uint64]AsyncHandle
}

// NewHandles returns an empty handle table.
func NewHandles() *Handles {
	return &Handles{pending: make(map[uint64]AsyncHandle)}
}

// Enroll inserts the handle and returns its fresh key. The VM-side reference
// inside the handle stays alive past the native call that created it.
func (h *Handles) Enroll(handle AsyncHandle) uint64 {
	h.nextID++
	h.pending[h.nextID] = handle
	return h.nextID
}

// Take removes and returns the handle for id; delivery is expected to follow
// immediately.
func (h *Handles) Take(id uint64) (AsyncHandle, bool) {
	handle, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	return handle, ok
}

// Remove drops a pending handle without delivering it. This is the
// cancellation extension point: removing a key before its completion fires
// makes the completion a no-op.
func (h *Handles) Remove(id uint64) bool {
	_, ok := h.pending[id]
	delete(h.pending, id)
	return ok
}

// Size returns the number of pending handles.
func (h *Handles) Size() int { return len(h.pending) }

// Settle delivers a completion to the handle inside the VM: a promise is
// resolved (or rejected when failure is non-nil), a callback is invoked with
// its enrolled arguments. Must run on the loop goroutine.
func Settle(vm *sobek.Runtime, handle AsyncHandle, result interface{}, failure interface{}) error {
	switch v := handle.(type) {
	case PromiseHandle:
		if failure != nil {
			v.Reject(failure)
		} else {
			v.Resolve(result)
		}
		return nil
	case CallbackHandle:
		_, err := v.Fn(vm.GlobalObject(), v.Args...)
		return err
	default:
		return fmt.Errorf("unknown async handle variant %T", handle)
	}
}
