package bridge

import (
	"errors"
	"fmt"
)

// Error is the bridge's error envelope. Every failure that crosses a package
// boundary is one of these so callers can route on Kind without string
// matching.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind categorizes bridge failures.
type ErrorKind string

const (
	// KindTransportUnavailable means a channel could not be opened. Fatal to
	// the current connect attempt; the bridge never retries internally.
	KindTransportUnavailable ErrorKind = "transport_unavailable"

	// KindProtocolDecode means an inbound event could not be parsed. The
	// offending event is skipped; the session stays up.
	KindProtocolDecode ErrorKind = "protocol_decode_error"

	// KindUpstream means the remote service reported an error event. The
	// current exchange terminates; the session remains usable.
	KindUpstream ErrorKind = "upstream_error"

	// KindCaptureDevice means a media source is unavailable. The live session
	// stays connected without that media stream.
	KindCaptureDevice ErrorKind = "capture_device_error"

	// KindExchangeInFlight means a deep-mode send was attempted while another
	// exchange was active. Rejected synchronously, never queued.
	KindExchangeInFlight ErrorKind = "concurrent_exchange_rejected"

	// KindInvalidRequest means the caller's input failed validation before
	// anything was sent upstream.
	KindInvalidRequest ErrorKind = "invalid_request"
)

func NewInvalidRequestError(message, param string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message, Param: param}
}

func NewTransportUnavailableError(message string, err error) *Error {
	return &Error{Kind: KindTransportUnavailable, Message: message, Err: err}
}

func NewProtocolDecodeError(message string, err error) *Error {
	return &Error{Kind: KindProtocolDecode, Message: message, Err: err}
}

func NewUpstreamError(message string) *Error {
	return &Error{Kind: KindUpstream, Message: message}
}

func NewCaptureDeviceError(message, device string) *Error {
	return &Error{Kind: KindCaptureDevice, Message: message, Param: device}
}

func NewExchangeInFlightError(state string) *Error {
	return &Error{Kind: KindExchangeInFlight, Message: "an exchange is already in flight", Param: state}
}

// IsKind reports whether err is a bridge Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// Recoverable reports whether the session that produced err remains usable.
// Decode and capture failures are isolated to the offending chunk or stream;
// everything else ends the current connect attempt or exchange.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindProtocolDecode, KindCaptureDevice, KindUpstream:
		return true
	default:
		return false
	}
}
