package tracer

import (
	"errors"
	"fmt"
)

// ErrShutdown is returned by operations attempted after the trace
// has been shut down.
var ErrShutdown = errors.New("trace has been shut down")

// ConfigFileMissingError reports that the configuration file could
// not be found.  The last-known-good configuration stays in force.
type ConfigFileMissingError struct {
	Path string
}

func NewConfigFileMissingError(path string) error {
	return &ConfigFileMissingError{Path: path}
}

func (e *ConfigFileMissingError) Error() string {
	return fmt.Sprintf("configuration file missing: '%s'", e.Path)
}

// ConfigParseError reports a malformed configuration file.  The
// last-known-good configuration stays in force.
type ConfigParseError struct {
	Path   string
	SubErr error
}

func NewConfigParseError(path string, err error) error {
	return &ConfigParseError{Path: path, SubErr: err}
}

func (e *ConfigParseError) Error() string {
	if e.SubErr != nil {
		return fmt.Sprintf("configuration file '%s' invalid: '%s'", e.Path, e.SubErr.Error())
	}
	return fmt.Sprintf("configuration file '%s' invalid", e.Path)
}

func (e *ConfigParseError) Unwrap() error { return e.SubErr }

// SinkConnectError reports a (transient) failure to reach the peer
// of a network sink.  The sink keeps reconnecting in the background.
type SinkConnectError struct {
	Address string
	SubErr  error
}

func NewSinkConnectError(address string, err error) error {
	return &SinkConnectError{Address: address, SubErr: err}
}

func (e *SinkConnectError) Error() string {
	if e.SubErr != nil {
		return fmt.Sprintf("cannot connect to '%s': '%s'", e.Address, e.SubErr.Error())
	}
	return fmt.Sprintf("cannot connect to '%s'", e.Address)
}

func (e *SinkConnectError) Unwrap() error { return e.SubErr }

// SinkWriteError reports a failed or dropped write on an output
// sink.  Hit-path callers never see it; it only feeds the
// self-diagnostics counters.
type SinkWriteError struct {
	Sink   string
	SubErr error
}

func NewSinkWriteError(sink string, err error) error {
	return &SinkWriteError{Sink: sink, SubErr: err}
}

func (e *SinkWriteError) Error() string {
	if e.SubErr != nil {
		return fmt.Sprintf("write to %s sink failed: '%s'", e.Sink, e.SubErr.Error())
	}
	return fmt.Sprintf("write to %s sink failed", e.Sink)
}

func (e *SinkWriteError) Unwrap() error { return e.SubErr }

// SerializerError reports a failure to encode a trace entry.
type SerializerError struct {
	SubErr error
}

func NewSerializerError(err error) error {
	return &SerializerError{SubErr: err}
}

func (e *SerializerError) Error() string {
	if e.SubErr != nil {
		return fmt.Sprintf("cannot serialize trace entry: '%s'", e.SubErr.Error())
	}
	return "cannot serialize trace entry"
}

func (e *SerializerError) Unwrap() error { return e.SubErr }
