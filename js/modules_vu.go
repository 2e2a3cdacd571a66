package js

import (
	"context"

	"github.com/grafana/sobek"
	"github.com/sirupsen/logrus"

	"github.com/tidaljs/tidal/js/eventloop"
	"github.com/tidaljs/tidal/js/modules"
)

// runtimeVU adapts the runtime to the [modules.VU] interface that bindings
// and the timer engine program against.
type runtimeVU struct {
	r *Runtime
}

var _ modules.VU = &runtimeVU{}

func (u *runtimeVU) Context() context.Context { return u.r.ctx }

func (u *runtimeVU) Runtime() *sobek.Runtime { return u.r.vm }

func (u *runtimeVU) RegisterCallback() func(func() error) {
	return u.r.loop.RegisterCallback()
}

func (u *runtimeVU) AsyncHandles() *eventloop.Handles { return u.r.handles }

func (u *runtimeVU) Logger() logrus.FieldLogger { return u.r.logger }
