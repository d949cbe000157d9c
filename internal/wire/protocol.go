package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Message types for the relay channel protocol.
const (
	// Client → relay. Must be the first frame on a fresh channel.
	TypeAuth = "auth"

	// Terminal frames (bidirectional, routed by Action).
	TypeTerminal = "terminal"

	// Relay → client on protocol violations.
	TypeError = "error"
)

// Terminal actions.
const (
	ActionCreate  = "create"  // client → relay: spawn a shell session
	ActionCreated = "created" // relay → client: session is running
	ActionInput   = "input"   // client → relay: raw keystrokes
	ActionResize  = "resize"  // client → relay: terminal dimensions changed
	ActionClose   = "close"   // client → relay: terminate the session
	ActionClosed  = "closed"  // relay → client: process reaped, carries exit code
)

// Envelope wraps every channel frame with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// Auth is the handshake frame. The client sends it with Token set; the
// relay replies with Success (and Message on rejection).
type Auth struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal is a terminal-control or data frame. Action is empty on
// unsolicited output frames from the relay; Data is base64-encoded.
type Terminal struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Data   string `json:"data,omitempty"`
	Cols   int    `json:"cols,omitempty"`
	Rows   int    `json:"rows,omitempty"`
	Code   int    `json:"code,omitempty"`
}

// ErrorMsg is sent by the relay for protocol errors before closing.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ProtocolError indicates a malformed or out-of-order channel frame.
// The connection is closed when one occurs; it is never silently ignored.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// NewInput builds an input frame from raw terminal bytes.
func NewInput(data []byte) Terminal {
	return Terminal{
		Type:   TypeTerminal,
		Action: ActionInput,
		Data:   base64.StdEncoding.EncodeToString(data),
	}
}

// NewOutput builds an unsolicited output frame from process bytes.
func NewOutput(data []byte) Terminal {
	return Terminal{
		Type: TypeTerminal,
		Data: base64.StdEncoding.EncodeToString(data),
	}
}

// DecodeData decodes the base64 payload of a terminal frame.
func (t Terminal) DecodeData() ([]byte, error) {
	if t.Data == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(t.Data)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("bad base64 data: %v", err)}
	}
	return raw, nil
}

// ParseEnvelope extracts the routing type from a raw frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, &ProtocolError{Reason: fmt.Sprintf("bad frame: %v", err)}
	}
	if env.Type == "" {
		return env, &ProtocolError{Reason: "missing type field"}
	}
	return env, nil
}
