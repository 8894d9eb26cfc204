package colibri

import "fmt"

// Condition is the protocol-level error condition of an error response.
type Condition string

const (
	ConditionBadRequest         Condition = "bad-request"
	ConditionConflict           Condition = "conflict"
	ConditionItemNotFound       Condition = "item-not-found"
	ConditionServiceUnavailable Condition = "service-unavailable"
)

// Reason is the domain-specific sub-code of an error response.
type Reason string

const (
	ReasonConferenceNotFound      Reason = "conference-not-found"
	ReasonConferenceAlreadyExists Reason = "conference-already-exists"
	ReasonGracefulShutdown        Reason = "graceful-shutdown"
	ReasonInternalServerError     Reason = "internal-server-error"
)

// ErrorResponse is the error variant of a conference-modify response.
type ErrorResponse struct {
	Condition Condition `json:"condition"`
	Reason    Reason    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Error implements the error interface.
func (e *ErrorResponse) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("colibri error: %s/%s: %s", e.Condition, e.Reason, e.Message)
	}
	return fmt.Sprintf("colibri error: %s: %s", e.Condition, e.Message)
}

// ErrorKind classifies an error response into the recovery policy it
// demands.
type ErrorKind int

const (
	// KindProtocol covers every condition without a dedicated policy;
	// only the requesting participant is evicted.
	KindProtocol ErrorKind = iota
	// KindConferenceNotFound means the bridge lost the conference; the
	// session is invalid.
	KindConferenceNotFound
	// KindConferenceAlreadyExists means the session collided with an
	// existing conference on the bridge.
	KindConferenceAlreadyExists
	// KindGracefulShutdown means the bridge refuses new allocations while
	// finishing existing ones.
	KindGracefulShutdown
	// KindBridgeUnavailable means the bridge reported an internal error.
	KindBridgeUnavailable
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindConferenceNotFound:
		return "conference-not-found"
	case KindConferenceAlreadyExists:
		return "conference-already-exists"
	case KindGracefulShutdown:
		return "graceful-shutdown"
	case KindBridgeUnavailable:
		return "bridge-unavailable"
	default:
		return "protocol-error"
	}
}

// RemovesBridge reports whether the session on the erroring bridge must
// be destroyed and its participants evicted.
func (k ErrorKind) RemovesBridge() bool {
	return k != KindProtocol
}

// Kind classifies the error response.
func (e *ErrorResponse) Kind() ErrorKind {
	switch {
	case e.Condition == ConditionItemNotFound && e.Reason == ReasonConferenceNotFound:
		return KindConferenceNotFound
	case e.Condition == ConditionConflict && e.Reason == ReasonConferenceAlreadyExists:
		return KindConferenceAlreadyExists
	case e.Condition == ConditionServiceUnavailable && e.Reason == ReasonGracefulShutdown:
		return KindGracefulShutdown
	case e.Condition == ConditionServiceUnavailable && e.Reason == ReasonInternalServerError:
		return KindBridgeUnavailable
	default:
		return KindProtocol
	}
}
