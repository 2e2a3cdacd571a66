// Package bindings holds the registry of native objects exposed to the
// bootstrap environment.
package bindings

import (
	"fmt"
	"io"
	"sort"

	"github.com/grafana/sobek"
	"github.com/sirupsen/logrus"

	"github.com/tidaljs/tidal/errext"
	"github.com/tidaljs/tidal/js/modules"
)

// Env is what a binding initializer gets to work with.
type Env struct {
	VU     modules.VU
	Stdout io.Writer
	Stderr io.Writer
	Logger logrus.FieldLogger
}

// InitFn builds a binding's API surface as a fully-initialized VM object.
// It runs eagerly at runtime construction; partial initialization is not an
// option - an initializer that can't build its object must error.
type InitFn func(env *Env) (*sobek.Object, error)

// Registry maps binding names to their initializers. It is built once at
// construction and never mutated afterwards.
type Registry map[string]InitFn

// Default returns the built-in bindings.
func Default() Registry {
	return Registry{
		"stdio":      initStdio,
		"timer_wrap": initTimerWrap,
	}
}

// Init eagerly runs every initializer and returns the name → object table.
// Initializer order is deterministic (sorted by name) so a failure is
// reported consistently.
func (r Registry) Init(env *Env) (map[string]*sobek.Object, error) {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)

	objects := make(map[string]*sobek.Object, len(r))
	for _, name := range names {
		obj, err := r[name](env)
		if err != nil {
			return nil, errext.NewJSError(errext.ConfigurationError,
				fmt.Sprintf("binding %q failed to initialize: %s", name, err), err)
		}
		objects[name] = obj
	}
	return objects, nil
}
