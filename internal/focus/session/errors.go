package session

import (
	"fmt"

	"github.com/sebas/conductor/internal/focus/colibri"
)

// ErrorKind classifies allocation failures by their recovery policy.
type ErrorKind int

const (
	// KindSelectionFailed: no candidate bridge survived the filters.
	KindSelectionFailed ErrorKind = iota
	// KindParticipantExists: duplicate allocate for the same id.
	KindParticipantExists
	// KindTimeout: the conference-modify deadline was exceeded.
	KindTimeout
	// KindConferenceNotFound: the bridge lost the conference.
	KindConferenceNotFound
	// KindConferenceAlreadyExists: session collision on the bridge.
	KindConferenceAlreadyExists
	// KindGracefulShutdown: the bridge refuses new allocations.
	KindGracefulShutdown
	// KindBridgeUnavailable: transport failure or bridge internal error.
	KindBridgeUnavailable
	// KindProtocol: any other error response; only this participant is
	// evicted.
	KindProtocol
	// KindParse: malformed success response.
	KindParse
	// KindStateMismatch: the response carried a conference id different
	// from the established one.
	KindStateMismatch
	// KindStale: the session or participant was replaced while the
	// response was in flight; the response is dropped.
	KindStale
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindSelectionFailed:
		return "bridge-selection-failed"
	case KindParticipantExists:
		return "participant-already-exists"
	case KindTimeout:
		return "timeout"
	case KindConferenceNotFound:
		return "conference-not-found"
	case KindConferenceAlreadyExists:
		return "conference-already-exists"
	case KindGracefulShutdown:
		return "graceful-shutdown"
	case KindBridgeUnavailable:
		return "bridge-unavailable"
	case KindProtocol:
		return "protocol-error"
	case KindParse:
		return "parse-error"
	case KindStateMismatch:
		return "state-mismatch"
	case KindStale:
		return "no-longer-active"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// AllocationError is the tagged failure variant returned by Allocate.
// RemoveBridge tells the caller the bridge was evicted from the
// conference and its participants need re-inviting elsewhere.
type AllocationError struct {
	Kind         ErrorKind
	BridgeJID    string
	RemoveBridge bool
	Err          error
}

// Error implements the error interface.
func (e *AllocationError) Error() string {
	msg := fmt.Sprintf("allocation failed (%s)", e.Kind)
	if e.BridgeJID != "" {
		msg += " on bridge " + e.BridgeJID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *AllocationError) Unwrap() error { return e.Err }

// kindForColibri maps a classified error response to the allocation kind.
func kindForColibri(k colibri.ErrorKind) ErrorKind {
	switch k {
	case colibri.KindConferenceNotFound:
		return KindConferenceNotFound
	case colibri.KindConferenceAlreadyExists:
		return KindConferenceAlreadyExists
	case colibri.KindGracefulShutdown:
		return KindGracefulShutdown
	case colibri.KindBridgeUnavailable:
		return KindBridgeUnavailable
	default:
		return KindProtocol
	}
}
