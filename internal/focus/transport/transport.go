// Package transport provides the control channel to media bridges.
package transport

import (
	"context"

	"github.com/sebas/conductor/internal/focus/colibri"
)

// ControlChannel abstracts the request/response channel to one bridge.
// Implementations: GRPCChannel (remote), in-process fakes in tests.
//
// ConferenceModify returns an error only for transport-level failures
// (unreachable bridge, exceeded deadline); protocol errors arrive in the
// response's Error field. The channel preserves per-bridge ordering: two
// requests issued in order are observed by the bridge in that order.
type ControlChannel interface {
	// ConferenceModify sends one conference-modify request and awaits the
	// response document.
	ConferenceModify(ctx context.Context, req *colibri.ConferenceModifyRequest) (*colibri.ConferenceModifyResponse, error)

	// Health probes the bridge; nil means healthy.
	Health(ctx context.Context) error

	// Ready checks if the channel is connected.
	Ready() bool

	// Close releases channel resources.
	Close() error
}
