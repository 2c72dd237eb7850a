// Package wire defines the JSON envelope exchanged with the
// authoritative session server: a {type, data} discriminator with
// SCREAMING_SNAKE type names and camelCase field names (spec.md §4.5,
// §4.6), plus the JSON deep-merge used for the shared-state blob.
package wire

import "encoding/json"

// Envelope is the outer frame of every upstream/downstream message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message type discriminators, shared by both directions where the
// message exists on both (Heartbeat/HeartbeatAck/Close).
const (
	TypeHeartbeat            = "HEARTBEAT"
	TypeHeartbeatAck         = "HEARTBEAT_ACK"
	TypeClose                = "CLOSE"
	TypeStateUpdate          = "STATE_UPDATE"
	TypeSharedStateUpdate    = "SHARED_STATE_UPDATE"
	TypeError                = "ERROR"
	TypeControllerConnect    = "CONTROLLER_CONNECT"
	TypeControllerDisconnect = "CONTROLLER_DISCONNECT"
	TypeInitialState         = "INITIAL_STATE"
)

// StateUpdateData is the payload of a StateUpdate message in either
// direction; ControllerID is populated only downstream.
type StateUpdateData struct {
	ObjectID     string `json:"objectId"`
	State        bool   `json:"state"`
	ControllerID string `json:"controllerId,omitempty"`
}

// SharedStateUpdateData is the payload of a SharedStateUpdate message
// in either direction; ControllerID is populated only downstream.
type SharedStateUpdateData struct {
	SharedStatePatch json.RawMessage `json:"sharedStatePatch"`
	ControllerID     string          `json:"controllerId,omitempty"`
}

// ErrorData is the payload of a downstream Error message.
type ErrorData struct {
	Message string `json:"message"`
}

// ControllerEventData is the payload of ControllerConnect/Disconnect.
type ControllerEventData struct {
	ControllerID string `json:"controllerId"`
}

// SceneryObjectView is the wire shape of a SceneryObject; id/state
// match model.SceneryObject field-for-field.
type SceneryObjectView struct {
	ID    string `json:"id"`
	State bool   `json:"state"`
}

// InitialStateData is the payload of a downstream InitialState
// message, the session's first reply to a connecting client.
type InitialStateData struct {
	ConnectionType string              `json:"connectionType"`
	Objects        []SceneryObjectView `json:"objects"`
	SharedState    json.RawMessage     `json:"sharedState,omitempty"`
}

// Encode wraps a payload in an Envelope and marshals it.
func Encode(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Envelope{Type: msgType, Data: raw})
}

// Decode parses a raw frame into its Envelope; callers switch on
// Type and unmarshal Data into the matching payload struct. Malformed
// JSON is the caller's cue to reply with Error{"malformed message"}
// (spec.md §4.6), and an unrecognized Type is a no-op, never fatal
// (spec.md §4.5, §4.2).
func Decode(frame []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(frame, &e)
	return e, err
}
