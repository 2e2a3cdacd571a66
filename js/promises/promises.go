// Package promises provides helpers for working with promises inside
// native bindings.
package promises

import (
	"github.com/grafana/sobek"

	"github.com/tidaljs/tidal/js/eventloop"
	"github.com/tidaljs/tidal/js/modules"
)

// New creates a promise whose completion is dispatched through the event
// loop, so it can be settled from any goroutine.
//
// The promise's resolver is enrolled as an async handle, which keeps the
// event loop from exiting before one of the returned functions is called,
// even if the promise isn't settled by the time the current script ends
// executing. A typical usage:
//
//	func myAsynchronousFunc(vu modules.VU) *sobek.Promise {
//	    promise, resolve, reject := promises.New(vu)
//	    go func() {
//	        v, err := someAsyncFunc()
//	        if err != nil {
//	            reject(err)
//	            return
//	        }
//	        resolve(v)
//	    }()
//	    return promise
//	}
func New(vu modules.VU) (p *sobek.Promise, resolve func(result interface{}), reject func(reason interface{})) {
	p, resolveFunc, rejectFunc := vu.Runtime().NewPromise()
	id := vu.AsyncHandles().Enroll(eventloop.PromiseHandle{Resolve: resolveFunc, Reject: rejectFunc})
	callback := vu.RegisterCallback()

	settle := func(result, failure interface{}) func() error {
		return func() error {
			handle, ok := vu.AsyncHandles().Take(id)
			if !ok {
				return nil // cancelled via the handle table
			}
			return eventloop.Settle(vu.Runtime(), handle, result, failure)
		}
	}

	resolve = func(result interface{}) {
		callback(settle(result, nil))
	}

	reject = func(reason interface{}) {
		callback(settle(nil, reason))
	}

	return p, resolve, reject
}
