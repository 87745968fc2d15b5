package hap

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of TLV error codes from the pairing protocol.
// https://github.com/apple/HomeKitADK/blob/master/HAP/HAPPairing.h
type ErrorCode byte

const (
	ErrorUnknown        ErrorCode = 1
	ErrorAuthentication ErrorCode = 2
	ErrorBackoff        ErrorCode = 3
	ErrorMaxPeers       ErrorCode = 4
	ErrorMaxTries       ErrorCode = 5
	ErrorUnavailable    ErrorCode = 6
	ErrorBusy           ErrorCode = 7
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorAuthentication:
		return "authentication"
	case ErrorBackoff:
		return "backoff"
	case ErrorMaxPeers:
		return "max peers"
	case ErrorMaxTries:
		return "max tries"
	case ErrorUnavailable:
		return "unavailable"
	case ErrorBusy:
		return "busy"
	}
	return fmt.Sprintf("error %d", byte(e))
}

// ErrorContainer is the error reply for a failed handshake step. State
// carries the state code the client expects for that step's response, not
// the request's own code, so the client can always locate which reply the
// error belongs to. State 0 means the step itself was unrecognized.
type ErrorContainer struct {
	State byte      `tlv8:"6"`
	Code  ErrorCode `tlv8:"7"`
}

func (e *ErrorContainer) Error() string {
	return fmt.Sprintf("hap: M%d: %s", e.State, e.Code)
}

func newError(state byte, code ErrorCode) *ErrorContainer {
	return &ErrorContainer{State: state, Code: code}
}

var ErrNotFound = errors.New("hap: pairing not found")
