package h2t

import (
	"fmt"

	"github.com/lthibault/h2t/codec"
)

// Code is the logical status taxonomy a Stream's terminal callback carries,
// independent of the wire-level HTTP/2 error code that produced it.
type Code uint8

const (
	// CodeOK means the stream ended normally.
	CodeOK Code = iota
	// CodeCancelled means a local Cancel() or a peer RST_STREAM(CANCEL).
	CodeCancelled
	// CodeUnavailable means the peer GOAWAY'd before this stream completed.
	CodeUnavailable
	// CodePermissionDenied means the peer RST_STREAM'd with INVALID_CREDENTIALS.
	CodePermissionDenied
	// CodeInternal covers protocol violations, stream-id exhaustion,
	// unclassified I/O failure, and unknown peer error codes.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeCancelled:
		return "CANCELLED"
	case CodeUnavailable:
		return "UNAVAILABLE"
	case CodePermissionDenied:
		return "PERMISSION_DENIED"
	case CodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Status is the terminal outcome delivered to a Listener exactly once, as
// the last callback for its Stream.
type Status struct {
	Code        Code
	Description string
	Cause       error
}

func (s *Status) Error() string {
	if s == nil {
		return "h2t: <nil status>"
	}
	if s.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", s.Code, s.Description, s.Cause)
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Description)
}

// OK is the terminal status for a stream that ran to completion normally.
func OK() *Status { return &Status{Code: CodeOK} }

// Cancelled builds a CANCELLED status.
func Cancelled(desc string) *Status { return &Status{Code: CodeCancelled, Description: desc} }

// Unavailable builds an UNAVAILABLE status.
func Unavailable(desc string) *Status { return &Status{Code: CodeUnavailable, Description: desc} }

// PermissionDenied builds a PERMISSION_DENIED status.
func PermissionDenied(desc string) *Status {
	return &Status{Code: CodePermissionDenied, Description: desc}
}

// Internal builds an INTERNAL status.
func Internal(desc string) *Status { return &Status{Code: CodeInternal, Description: desc} }

// FromCause derives a Status from an arbitrary abort cause (§7
// "derived-from-cause"). A cause that is already a *Status passes through
// unchanged so callers can abort with a specific classification.
func FromCause(cause error) *Status {
	if cause == nil {
		return Internal("transport aborted with no cause")
	}
	if s, ok := cause.(*Status); ok {
		return s
	}
	return &Status{Code: CodeInternal, Description: "transport aborted", Cause: cause}
}

// knownErrorCodeNames gives the human-readable name used in an INTERNAL
// status's description for every HTTP/2 error code the core recognizes but
// doesn't special-case (§4.6 "all other known").
var knownErrorCodeNames = map[codec.ErrorCode]string{
	codec.ProtocolError:      "PROTOCOL_ERROR",
	codec.InternalError:      "INTERNAL_ERROR",
	codec.FlowControlError:   "FLOW_CONTROL_ERROR",
	codec.SettingsTimeout:    "SETTINGS_TIMEOUT",
	codec.StreamClosedError:  "STREAM_CLOSED",
	codec.FrameSizeError:     "FRAME_SIZE_ERROR",
	codec.RefusedStream:      "REFUSED_STREAM",
	codec.CompressionError:   "COMPRESSION_ERROR",
	codec.ConnectError:       "CONNECT_ERROR",
	codec.EnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	codec.InadequateSecurity: "INADEQUATE_SECURITY",
	codec.HTTP11Required:     "HTTP_1_1_REQUIRED",
}

// StatusFromErrorCode is the fixed table of §4.6: it maps a peer-visible
// HTTP/2 RST_STREAM/GOAWAY error code to the status a Stream's listener
// observes.
func StatusFromErrorCode(code codec.ErrorCode) *Status {
	switch code {
	case codec.NoError:
		return OK()
	case codec.Cancel:
		return Cancelled("Cancelled")
	case codec.InvalidCredentials:
		return PermissionDenied("Invalid credentials")
	}

	if name, known := knownErrorCodeNames[code]; known {
		return Internal(name)
	}
	return Internal("unknown error code")
}
