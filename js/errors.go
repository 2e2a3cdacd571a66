package js

import (
	"errors"
	"strings"

	"github.com/grafana/sobek"

	"github.com/tidaljs/tidal/errext"
)

// throwError converts a VM-level execution failure into the structured
// error surfaced to hosts. Errors that are already structured (e.g. a
// configuration error thrown through the VM by a native callback) pass
// through unchanged.
func (r *Runtime) throwError(sourceName string, err error) error {
	var jserr *errext.JSError
	if errors.As(err, &jserr) {
		return jserr
	}

	switch x := err.(type) { //nolint:errorlint
	case *sobek.Exception:
		converted := errext.NewJSError(errext.RuntimeError, x.Value().String(), x)
		converted.SourceName = sourceName
		converted.Stack = x.String()
		return converted
	case *sobek.InterruptedError:
		return errext.NewJSError(errext.EngineTerminated, x.Error(), x)
	case *sobek.StackOverflowError:
		converted := errext.NewJSError(errext.RuntimeError, x.Error(), x)
		converted.SourceName = sourceName
		return converted
	default:
		converted := errext.NewJSError(errext.RuntimeError, err.Error(), err)
		converted.SourceName = sourceName
		return converted
	}
}

// linkError classifies an instantiation failure: resolution and compile
// errors found during linking keep their kind, everything else is an
// unsatisfied import/export binding.
func (r *Runtime) linkError(sourceName string, err error) error {
	var jserr *errext.JSError
	if errors.As(err, &jserr) {
		return jserr
	}
	converted := errext.NewJSError(errext.LinkError, err.Error(), err)
	converted.SourceName = sourceName
	return converted
}

// evaluationError converts the rejection reason of a module evaluation
// promise. The reason is usually the thrown value, but sobek hands back Go
// errors for native failures.
func (r *Runtime) evaluationError(sourceName string, reason sobek.Value) error {
	if exported, ok := reason.Export().(error); ok {
		return r.throwError(sourceName, exported)
	}

	converted := errext.NewJSError(errext.RuntimeError, reason.String(), nil)
	converted.SourceName = sourceName
	if o := reason.ToObject(r.vm); o != nil {
		// instantiation failures (unsatisfied or ambiguous import bindings)
		// are typed SyntaxError by the language and reject the evaluation
		// promise before any top-level code runs
		if n := o.Get("name"); n != nil && n.String() == "SyntaxError" &&
			strings.Contains(reason.String(), "requested module") {
			converted.ErrKind = errext.LinkError
		}
		if s := o.Get("stack"); s != nil {
			converted.Stack = s.String()
		}
	}
	return converted
}
