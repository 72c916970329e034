package service

import (
	"errors"
	"fmt"
)

// Kind categorizes why a service operation failed.
type Kind string

const (
	KindConfig    Kind = "config"     // invalid or incomplete spec
	KindResources Kind = "resources"  // declared host requirement absent
	KindSpawn     Kind = "spawn"      // OS could not start the command
	KindEarlyExit Kind = "early_exit" // exited before readiness
	KindTimeout   Kind = "timeout"    // readiness window elapsed
	KindCanceled  Kind = "canceled"   // caller gave up while waiting
)

// Error is a name-tagged service failure. The message always carries the
// service name so failures in multi-service tests stay attributable.
type Error struct {
	Name string
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return e.Msg
	}
	return "[" + e.Name + "] " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(name string, kind Kind, format string, args ...any) *Error {
	return &Error{Name: name, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err, or "" when err is not a service
// error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsTimeout reports whether err is a readiness-timeout failure.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsConfig reports whether err is a configuration failure.
func IsConfig(err error) bool { return KindOf(err) == KindConfig }
