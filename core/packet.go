package core

import (
	"encoding/json"
	"fmt"
)

// PacketKind is the wire discriminator carried in every frame.
type PacketKind string

const (
	KindMessageForView        PacketKind = "message-for-view"
	KindWorkerMessageForView  PacketKind = "worker-message-for-view"
	KindMessageFromView       PacketKind = "message-from-view"
	KindWorkerMessageFromView PacketKind = "worker-message-from-view"
	KindBridgeError           PacketKind = "bridge-error"
	KindTriggerSentryTest     PacketKind = "trigger-sentry-test"
)

// Packet is one decoded frame. Payload is kept raw and forwarded verbatim.
// WorkerID stays raw on decode so that a non-string workerId can be told
// apart from a missing one.
type Packet struct {
	Kind     PacketKind      `json:"kind"`
	WorkerID json.RawMessage `json:"workerId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
}

// WorkerIDString reports the workerId when it is a JSON string.
func (p Packet) WorkerIDString() (string, bool) {
	if len(p.WorkerID) == 0 || p.WorkerID[0] != '"' {
		return "", false
	}
	var id string
	if err := json.Unmarshal(p.WorkerID, &id); err != nil {
		return "", false
	}
	return id, true
}

// ErrorMessage renders a bridge-error message for logging.
func (p Packet) ErrorMessage() string {
	if len(p.Message) == 0 || string(p.Message) == "null" {
		return "unknown"
	}
	var s string
	if err := json.Unmarshal(p.Message, &s); err == nil {
		return s
	}
	return string(p.Message)
}

type outboundPacket struct {
	Kind     PacketKind `json:"kind"`
	WorkerID *string    `json:"workerId,omitempty"`
	Payload  any        `json:"payload,omitempty"`
}

// EncodePacket serializes an outbound packet. A nil payload is sent as
// JSON null for message kinds so the field is always present.
func EncodePacket(kind PacketKind, workerID *string, payload any) ([]byte, error) {
	out := outboundPacket{Kind: kind, WorkerID: workerID}
	switch kind {
	case KindMessageFromView, KindWorkerMessageFromView:
		if payload == nil {
			payload = json.RawMessage("null")
		}
		out.Payload = payload
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s packet: %w", kind, err)
	}
	return data, nil
}

// DecodePacket parses one inbound frame. It returns false for anything
// that is not a JSON object; callers drop such frames without logging.
func DecodePacket(data []byte) (Packet, bool) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, false
	}
	// json.Unmarshal accepts "null" into a struct without error
	if !isJSONObject(data) {
		return Packet{}, false
	}
	return p, true
}

func isJSONObject(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
