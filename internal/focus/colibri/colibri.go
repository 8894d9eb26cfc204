// Package colibri models the conference-modify documents exchanged with
// bridges over the control channel.
package colibri

import "encoding/json"

// MediaType names a media kind on an endpoint.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// Media describes one media kind on an endpoint, optionally carrying a
// force-mute instruction.
type Media struct {
	Type       MediaType `json:"type"`
	ForceMuted *bool     `json:"force_muted,omitempty"`
}

// Endpoint is the per-participant element of a conference-modify request.
// Transport and Sources are opaque to the focus and pass through verbatim.
type Endpoint struct {
	ID           string          `json:"id"`
	Create       bool            `json:"create,omitempty"`
	Expire       bool            `json:"expire,omitempty"`
	StatsID      string          `json:"stats_id,omitempty"`
	DisplayName  string          `json:"display_name,omitempty"`
	Medias       []Media         `json:"medias,omitempty"`
	SCTP         bool            `json:"sctp,omitempty"`
	Transport    json.RawMessage `json:"transport,omitempty"`
	Sources      json.RawMessage `json:"sources,omitempty"`
	InitialLastN *int            `json:"initial_last_n,omitempty"`
}

// Relay is the per-remote-bridge element describing an Octo link. ID is
// the remote bridge's relay ID; Endpoints carry the remote participant
// view the bridge should install for that link.
type Relay struct {
	ID        string          `json:"id"`
	Create    bool            `json:"create,omitempty"`
	Expire    bool            `json:"expire,omitempty"`
	MeshID    string          `json:"mesh_id,omitempty"`
	Initiator *bool           `json:"initiator,omitempty"`
	Transport json.RawMessage `json:"transport,omitempty"`
	Endpoints []Endpoint      `json:"endpoints,omitempty"`
}

// ConferenceModifyRequest is the request document of the control channel.
// Create is set on the first request of a session; Expire requests
// whole-conference expiration on the bridge.
type ConferenceModifyRequest struct {
	MeetingID    string     `json:"meeting_id,omitempty"`
	ConferenceID string     `json:"conference_id,omitempty"`
	Create       bool       `json:"create,omitempty"`
	Expire       bool       `json:"expire,omitempty"`
	Endpoints    []Endpoint `json:"endpoints,omitempty"`
	Relays       []Relay    `json:"relays,omitempty"`
}

// EndpointResult is the per-endpoint payload of a successful response.
type EndpointResult struct {
	ID        string          `json:"id"`
	Transport json.RawMessage `json:"transport,omitempty"`
	SCTPPort  *int            `json:"sctp_port,omitempty"`
}

// RelayResult is the per-relay payload of a successful response. The
// bridge answers a relay create with its local transport for the link,
// which the focus forwards to the remote side.
type RelayResult struct {
	ID        string          `json:"id"`
	Transport json.RawMessage `json:"transport,omitempty"`
}

// ConferenceModifyResponse is the response document. Exactly one of Error
// or the success payload is meaningful; ConferenceID is present only on
// the response to the first create request.
type ConferenceModifyResponse struct {
	ConferenceID    string           `json:"conference_id,omitempty"`
	Endpoints       []EndpointResult `json:"endpoints,omitempty"`
	Relays          []RelayResult    `json:"relays,omitempty"`
	FeedbackSources json.RawMessage  `json:"feedback_sources,omitempty"`
	Error           *ErrorResponse   `json:"error,omitempty"`
}

// Endpoint returns the result for the endpoint with the given id.
func (r *ConferenceModifyResponse) Endpoint(id string) *EndpointResult {
	for i := range r.Endpoints {
		if r.Endpoints[i].ID == id {
			return &r.Endpoints[i]
		}
	}
	return nil
}

// Relay returns the result for the relay with the given id.
func (r *ConferenceModifyResponse) Relay(id string) *RelayResult {
	for i := range r.Relays {
		if r.Relays[i].ID == id {
			return &r.Relays[i]
		}
	}
	return nil
}
