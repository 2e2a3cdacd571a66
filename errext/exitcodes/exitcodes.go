// Package exitcodes contains the constants representing possible tidal exit
// error codes.
package exitcodes

// ExitCode is a process exit code for tidal.
type ExitCode uint8

// Exit codes used by tidal.
const (
	GenericError    ExitCode = 1
	InvalidConfig   ExitCode = 104
	ScriptException ExitCode = 107
	ScriptNotFound  ExitCode = 109
)
