package bindings

import (
	"io"

	"github.com/grafana/sobek"

	"github.com/tidaljs/tidal/js/common"
)

// initStdio exposes the process output streams. The bootstrap module builds
// console on top of these.
func initStdio(env *Env) (*sobek.Object, error) {
	rt := env.VU.Runtime()
	obj := rt.NewObject()

	write := func(w io.Writer) func(string) int {
		return func(s string) int {
			n, err := io.WriteString(w, s)
			if err != nil {
				common.Throw(rt, err)
			}
			return n
		}
	}

	if err := obj.Set("write", write(env.Stdout)); err != nil {
		return nil, err
	}
	if err := obj.Set("writeError", write(env.Stderr)); err != nil {
		return nil, err
	}
	return obj, nil
}
