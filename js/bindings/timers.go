package bindings

import (
	"github.com/grafana/sobek"

	"github.com/tidaljs/tidal/js/timers"
)

// initTimerWrap exposes the timer engine. The bootstrap module builds
// setTimeout/setInterval and their clear counterparts on top of it.
func initTimerWrap(env *Env) (*sobek.Object, error) {
	rt := env.VU.Runtime()
	engine := timers.New(env.VU)

	obj := rt.NewObject()
	if err := obj.Set("enroll", engine.Enroll); err != nil {
		return nil, err
	}
	if err := obj.Set("cancel", engine.Cancel); err != nil {
		return nil, err
	}
	return obj, nil
}
