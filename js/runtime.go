// Package js is the runtime facade: it owns the VM, the module system, the
// bindings and the event loop, and exposes script and module execution to
// the host process.
package js

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/grafana/sobek"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/tidaljs/tidal/errext"
	"github.com/tidaljs/tidal/js/bindings"
	"github.com/tidaljs/tidal/js/common"
	"github.com/tidaljs/tidal/js/compiler"
	"github.com/tidaljs/tidal/js/eventloop"
	"github.com/tidaljs/tidal/js/modules"
	"github.com/tidaljs/tidal/loader"
)

// bootstrapSource sets up the global environment (console, timers) on top
// of the native bindings before any user code runs.
//
//go:embed bootstrap.js
var bootstrapSource string

// bindingAccessorName is the global the bootstrap module reads bindings off;
// the bootstrap removes it when it's done.
const bindingAccessorName = "__getBinding"

// bootstrapURL is the synthetic identifier of the in-memory bootstrap
// module; it has no addressable location and never resolves from storage.
var bootstrapURL = &url.URL{Scheme: "tidal", Opaque: "bootstrap"}

// Options configure a Runtime. The zero value works: OS filesystem, OS
// working directory, process streams, default bindings.
type Options struct {
	Logger   logrus.FieldLogger
	FS       afero.Fs
	CWD      *url.URL
	Stdout   io.Writer
	Stderr   io.Writer
	Bindings bindings.Registry
}

// Runtime owns one VM and everything attached to it: the module map, the
// binding table, the timer queue and the async-handle table. It is the
// single shared mutable record of the design; all access to it is
// single-goroutine, mediated by the event loop.
type Runtime struct {
	vm       *sobek.Runtime
	loop     *eventloop.EventLoop
	handles  *eventloop.Handles
	compiler *compiler.Compiler
	resolver *modules.Resolver
	vu       *runtimeVU

	bindingObjects map[string]*sobek.Object
	filesystems    map[string]afero.Fs
	cwd            *url.URL
	logger         logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a runtime: it builds the VM, eagerly initializes every
// registered binding, and executes the bootstrap module. A bootstrap
// failure aborts construction; no partially-built runtime is returned.
func New(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		logger = l
	}
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cwd := opts.CWD
	if cwd == nil {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cwd = &url.URL{Scheme: "file", Path: filepath.ToSlash(wd) + "/"}
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	registry := opts.Bindings
	if registry == nil {
		registry = bindings.Default()
	}

	vm := sobek.New()
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runtime{
		vm:          vm,
		loop:        eventloop.New(vm, logger),
		handles:     eventloop.NewHandles(),
		compiler:    compiler.New(logger),
		filesystems: loader.CreateFilesystems(fs),
		cwd:         cwd,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	r.vu = &runtimeVU{r: r}

	r.compiler.Options.SourceMapLoader = r.loadSource
	r.resolver = modules.NewResolver(cwd, r.compiler, r.locateModule, logger)

	env := &bindings.Env{VU: r.vu, Stdout: stdout, Stderr: stderr, Logger: logger}
	objects, err := registry.Init(env)
	if err != nil {
		cancel()
		return nil, err
	}
	r.bindingObjects = objects

	if err := vm.GlobalObject().Set(bindingAccessorName, r.getBinding); err != nil {
		cancel()
		return nil, err
	}

	if err := r.runBootstrap(); err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

// Close shuts the runtime down: pending timers are dropped and their
// cleanup goroutines released. The runtime must not be used afterwards.
func (r *Runtime) Close() {
	r.cancel()
	r.loop.WaitOnRegistered()
}

// VU returns the interface native bindings use to reach this runtime.
func (r *Runtime) VU() modules.VU { return r.vu }

// getBinding is the accessor the bootstrap module reads bindings through.
// Requesting a name that was never registered is a configuration error and
// aborts runtime construction.
func (r *Runtime) getBinding(name string) *sobek.Object {
	obj, ok := r.bindingObjects[name]
	if !ok {
		common.Throw(r.vm, errext.NewJSError(errext.ConfigurationError,
			fmt.Sprintf("unknown binding %q requested by the bootstrap environment", name), nil))
	}
	return obj
}

// locateModule loads the bytes behind a canonical module URL.
func (r *Runtime) locateModule(specifier *url.URL, originalSpecifier string) ([]byte, error) {
	data, err := loader.Load(r.logger, r.filesystems, specifier, originalSpecifier)
	if err != nil {
		return nil, err
	}
	return data.Data, nil
}

// loadSource fetches external source maps referenced by compiled code.
func (r *Runtime) loadSource(path string) ([]byte, error) {
	u, err := loader.Resolve(r.cwd, path)
	if err != nil {
		return nil, err
	}
	return r.locateModule(u, path)
}

// RunScript compiles source as a classic (non-module) script tagged with
// filename as its diagnostic origin and runs it to completion on the event
// loop. Any compile or runtime exception is captured and returned as a
// structured error; the loop keeps running until any work the script
// scheduled has drained.
func (r *Runtime) RunScript(filename, source string) (sobek.Value, error) {
	prg, err := r.compiler.Compile(source, filename)
	if err != nil {
		return nil, err
	}

	var value sobek.Value
	err = r.loop.Start(func() error {
		v, err := r.vm.RunProgram(prg)
		if err != nil {
			return r.throwError(filename, err)
		}
		value = v
		return nil
	})
	if err != nil {
		r.loop.WaitOnRegistered()
		return nil, err
	}
	return value, nil
}

// RunModule resolves specifier against the runtime root, executes its
// module graph on the event loop, and returns the evaluation result.
func (r *Runtime) RunModule(specifier string) (sobek.Value, error) {
	u, err := r.resolver.ResolveSpecifier(r.cwd, specifier)
	if err != nil {
		return nil, err
	}
	return r.runModule(u, nil, specifier)
}

// RunModuleSource executes source as a module under a synthetic identifier
// in the tidal: namespace, without touching any filesystem. Relative imports
// inside the source resolve against the runtime root.
func (r *Runtime) RunModuleSource(name, source string) (sobek.Value, error) {
	identifier := &url.URL{Scheme: "tidal", Opaque: name}
	return r.runModule(identifier, &source, name)
}

// runBootstrap executes the embedded bootstrap module under its synthetic
// identifier. Any failure is a configuration error.
func (r *Runtime) runBootstrap() error {
	src := bootstrapSource
	_, err := r.runModule(bootstrapURL, &src, bootstrapURL.String())
	if err != nil {
		if _, ok := err.(*errext.JSError); !ok { //nolint:errorlint
			err = errext.NewJSError(errext.ConfigurationError, err.Error(), err)
		}
		return err
	}
	return nil
}

// runModule fetches, instantiates and evaluates the module graph rooted at
// identifier, driving the event loop until it quiesces.
func (r *Runtime) runModule(identifier *url.URL, inlineSource *string, sourceName string) (sobek.Value, error) {
	var promise *sobek.Promise
	err := r.loop.Start(func() error {
		var mod sobek.ModuleRecord
		var err error
		if inlineSource != nil {
			mod, err = r.resolver.CompileInline(identifier, *inlineSource)
		} else {
			mod, err = r.resolver.HostResolve(nil, identifier.String())
		}
		if err != nil {
			return err
		}

		// Fetch the whole graph before linking so every record is in the
		// module map by the time instantiation asks for it.
		if err := r.resolver.FetchModuleTree(mod); err != nil {
			return err
		}

		// Instantiate: link all imports/exports across the graph.
		if err := mod.Link(); err != nil {
			return r.linkError(sourceName, err)
		}

		// Evaluate: top-level code in dependency order, once per record.
		cyclic, ok := mod.(sobek.CyclicModuleRecord)
		if !ok {
			return errext.NewJSError(errext.EngineTerminated,
				fmt.Sprintf("module %s cannot be evaluated", sourceName), nil)
		}
		promise = r.vm.CyclicModuleRecordEvaluate(cyclic, r.resolver.HostResolve)
		// we inspect the promise ourselves below; without the claim a
		// rejection would be reported as uncaught and abort the loop with
		// an unclassified error
		r.loop.ClaimPromise(promise)
		return nil
	})
	if err != nil {
		r.loop.WaitOnRegistered()
		return nil, err
	}

	// The loop has quiesced, so a still-pending promise means the engine
	// stopped without producing either a value or an exception.
	switch promise.State() {
	case sobek.PromiseStateFulfilled:
		return promise.Result(), nil
	case sobek.PromiseStateRejected:
		return nil, r.evaluationError(sourceName, promise.Result())
	default:
		return nil, errext.NewJSError(errext.EngineTerminated,
			fmt.Sprintf("evaluation of module %s did not complete", sourceName), nil)
	}
}
