package errext

import (
	"errors"

	"github.com/tidaljs/tidal/errext/exitcodes"
)

// HasExitCode is a wrapper around an error with an attached process exit
// code. Values should stay between 0 and 125.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// WithExitCodeIfNone attaches an exit code to the given error unless it
// already carries one. A nil error stays nil.
func WithExitCodeIfNone(err error, exitCode exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return err
	}
	return withExitCode{err, exitCode}
}

type withExitCode struct {
	error
	exitCode exitcodes.ExitCode
}

func (wh withExitCode) Unwrap() error { return wh.error }

func (wh withExitCode) ExitCode() exitcodes.ExitCode { return wh.exitCode }

var _ HasExitCode = withExitCode{}
