// Package common contains helpers for native code crossing into the VM.
package common

import (
	"github.com/grafana/sobek"
)

// Throw a JS error; avoids re-wrapping exceptions that already came out of
// the VM.
func Throw(rt *sobek.Runtime, err error) {
	if e, ok := err.(*sobek.Exception); ok { //nolint:errorlint
		panic(e)
	}
	panic(rt.NewGoError(err))
}
