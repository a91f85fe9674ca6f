// Package errors defines the error taxonomy used across the querier daemon.
//
// Every failure the core produces falls into one of five kinds: a malformed
// packet (DecodeError), a failed transmit (SendError), a failed allocation
// (AllocError), a bad configuration value (ConfigError), or a condition that
// must stop the daemon before the event loop starts (FatalInit). Each type
// carries the operation that failed, the underlying cause, and enough
// context that a log line is self-contained.
//
// Propagation policy: DecodeError, SendError and AllocError never escape the
// handler that produced them — the triggering packet or event is dropped and
// the event loop continues. Only FatalInit, and a ConfigError returned from
// configuration validation, abort the process, and only before the
// dispatcher starts.
package errors

import "fmt"

// DecodeError represents a malformed IPv4/IGMP packet: a short length, a bad
// checksum, or a group-record that overruns the report buffer.
type DecodeError struct {
	Operation string // e.g. "decode ipv4 header", "parse grec"
	Offset    int    // byte offset of the failure, or -1 if not applicable
	Message   string
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		if e.Err != nil {
			return fmt.Sprintf("decode error during %s at offset %d: %s (underlying: %v)", e.Operation, e.Offset, e.Message, e.Err)
		}
		return fmt.Sprintf("decode error during %s at offset %d: %s", e.Operation, e.Offset, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("decode error during %s: %s (underlying: %v)", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("decode error during %s: %s", e.Operation, e.Message)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SendError represents a failed outbound packet write. Callers should treat
// an ENETDOWN-equivalent cause as a signal to recheck interface state; any
// other send error is only logged.
type SendError struct {
	Operation string // e.g. "send general query", "send group-specific query"
	Iface     string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send error during %s on %s: %v", e.Operation, e.Iface, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// AllocError represents a failed allocation of a group entry or timer
// handle. The triggering event is dropped; the daemon continues.
type AllocError struct {
	Operation string // e.g. "allocate group entry", "allocate timer"
	Err       error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("alloc error during %s: %v", e.Operation, e.Err)
}

func (e *AllocError) Unwrap() error { return e.Err }

// ConfigError represents a bad configuration value, or a reference to an
// interface that is not known. A bad parameter value returned from
// configuration validation stops startup; an unknown interface is logged
// as a warning and skipped, and the daemon continues.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("config error for %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("config error for %s: %s", e.Field, e.Message)
}

// FatalInit represents a condition that must abort startup before the event
// loop begins: the raw socket cannot be opened, or the initial buffers
// cannot be allocated.
type FatalInit struct {
	Operation string
	Err       error
}

func (e *FatalInit) Error() string {
	return fmt.Sprintf("fatal init error during %s: %v", e.Operation, e.Err)
}

func (e *FatalInit) Unwrap() error { return e.Err }
