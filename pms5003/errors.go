package pms5003

import (
	"errors"
	"fmt"
)

// Kind classifies a failed read attempt. Every kind is recoverable; the
// caller decides which corrective action to take.
type Kind uint8

const (
	KindNone Kind = iota
	// KindInvalidFrame: short or corrupt frame, skip and continue.
	KindInvalidFrame
	// KindReadTimeout: no bytes at all, the sensor may be asleep.
	KindReadTimeout
	// KindRuntimeFault: the transport failed.
	KindRuntimeFault
	// KindUnexpectedFault: anything else, including recovered panics.
	KindUnexpectedFault
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidFrame:
		return "invalid_frame"
	case KindReadTimeout:
		return "read_timeout"
	case KindRuntimeFault:
		return "runtime_fault"
	default:
		return "unexpected_fault"
	}
}

var (
	ErrInvalidFrame = errors.New("pms5003: invalid frame")
	ErrReadTimeout  = errors.New("pms5003: read timeout")
)

// FrameError describes a frame that could not be used.
type FrameError struct {
	Len    int
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("pms5003: invalid frame (%d bytes): %s", e.Len, e.Reason)
}

func (e *FrameError) Is(target error) bool { return target == ErrInvalidFrame }

// TransportError wraps a failure of the serial transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("pms5003: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnexpectedError carries a recovered panic value or an error that fits no
// other kind.
type UnexpectedError struct {
	Value interface{}
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("pms5003: unexpected: %v", e.Value)
}

func (e *UnexpectedError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// KindOf extracts the Kind from an error, defaulting to KindUnexpectedFault.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var unexpected *UnexpectedError
	if errors.As(err, &unexpected) {
		return KindUnexpectedFault
	}

	switch {
	case errors.Is(err, ErrInvalidFrame):
		return KindInvalidFrame
	case errors.Is(err, ErrReadTimeout):
		return KindReadTimeout
	}

	var transport *TransportError
	if errors.As(err, &transport) {
		return KindRuntimeFault
	}
	return KindUnexpectedFault
}
