// Package wiplog provides the package-level diagnostic logger shared by every
// WIP component. It defaults to log.Printf but may be replaced wholesale by
// SetLogger so embedding applications (or tests) can redirect or mute it.
package wiplog

import "log"

// Logf is the package-level diagnostic logger. Components call through Logf
// rather than log.Printf directly so tests can silence or capture output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
