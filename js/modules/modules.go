// Package modules implements the ES module resolution and caching protocol
// on top of sobek's module records.
package modules

import (
	"context"

	"github.com/grafana/sobek"
	"github.com/sirupsen/logrus"

	"github.com/tidaljs/tidal/js/eventloop"
)

// VU gives native components access to the currently executing runtime.
type VU interface {
	// Context returns the context for the current runtime; it is done when
	// the runtime shuts down.
	Context() context.Context

	// Runtime returns the sobek VM. It must only be used from the event
	// loop goroutine.
	Runtime() *sobek.Runtime

	// RegisterCallback lets native code declare that it wants to run a
	// function on the event loop at a later point in time. See
	// [eventloop.EventLoop.RegisterCallback] for the important details on
	// its usage and restrictions.
	RegisterCallback() (enqueueCallback func(func() error))

	// AsyncHandles returns the runtime's pending-completion table.
	AsyncHandles() *eventloop.Handles

	// Logger returns the runtime's logger.
	Logger() logrus.FieldLogger
}
