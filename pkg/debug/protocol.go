// Package debug implements the registry's live-debug surface: a WebSocket
// broadcast server that streams transition records to connected operators
// and accepts a small control protocol for driving machines directly.
package debug

import "github.com/quadgate/fsmregistry/pkg/fsm"

// MessageType enumerates the frames the server ever sends.
type MessageType string

const (
	MessageCurrentState       MessageType = "CURRENT_STATE"
	MessageStateChange        MessageType = "STATE_CHANGE"
	MessagePeriodicUpdate     MessageType = "PERIODIC_UPDATE"
	MessageEventMetadataUpdate MessageType = "EVENT_METADATA_UPDATE"
)

// ServerMessage is one WebSocket frame sent from server to client.
type ServerMessage struct {
	Type      MessageType         `json:"type"`
	MachineID fsm.MachineID       `json:"machine_id,omitempty"`
	State     fsm.StateName       `json:"state,omitempty"`
	Record    *fsm.TransitionRecord `json:"record,omitempty"`
	Events    []EventMetadata     `json:"events,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// EventMetadata describes one event a state can currently handle, derived
// from the static graph so clients can render a "supported events" picker.
type EventMetadata struct {
	Name   string        `json:"name"`
	Target fsm.StateName `json:"target,omitempty"`
	Stay   bool          `json:"stay"`
}

// ClientAction is one WebSocket frame sent from client to server.
type ClientAction struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload,omitempty"`
}

// ActionGetState is the reserved action name requesting a CURRENT_STATE
// frame for the connection's subscribed machine.
const ActionGetState = "GET_STATE"
