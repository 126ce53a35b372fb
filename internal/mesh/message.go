package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/soma-network/soma/internal/domain"
)

// FrameType is the "type" discriminator of a mesh frame.
type FrameType string

const (
	TypeHandshake FrameType = "Handshake"
	TypeHeartbeat FrameType = "Heartbeat"
	TypeStateSync FrameType = "StateSync"
	TypeFire      FrameType = "Fire"
	TypeAck       FrameType = "Ack"
)

func (t FrameType) String() string { return string(t) }

// Message is one mesh frame. Concrete types are *Handshake, *Heartbeat,
// *StateSync, *Fire and *Ack.
type Message interface {
	Type() FrameType
	Sender() string
}

// Handshake is the first frame on every connection.
type Handshake struct {
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
}

// Heartbeat keeps a peer alive.
type Heartbeat struct {
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
}

// StateSync carries the sender's simulation counters and load.
type StateSync struct {
	NodeID     string  `json:"node_id"`
	Cells      uint64  `json:"cells"`
	Generation uint32  `json:"generation"`
	Load       float64 `json:"load"`
	Timestamp  int64   `json:"timestamp"`
}

// Fire is a spike event used for Hebbian co-activation learning.
type Fire struct {
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
}

// Ack answers a Handshake.
type Ack struct {
	NodeID    string `json:"node_id"`
	AckTo     string `json:"ack_to"`
	Timestamp int64  `json:"timestamp"`
}

func (*Handshake) Type() FrameType { return TypeHandshake }
func (*Heartbeat) Type() FrameType { return TypeHeartbeat }
func (*StateSync) Type() FrameType { return TypeStateSync }
func (*Fire) Type() FrameType      { return TypeFire }
func (*Ack) Type() FrameType       { return TypeAck }

func (m *Handshake) Sender() string { return m.NodeID }
func (m *Heartbeat) Sender() string { return m.NodeID }
func (m *StateSync) Sender() string { return m.NodeID }
func (m *Fire) Sender() string      { return m.NodeID }
func (m *Ack) Sender() string       { return m.NodeID }

// Encode renders msg as one JSON text frame with its "type" tag.
func Encode(msg Message) ([]byte, error) {
	var body any
	switch m := msg.(type) {
	case *Handshake:
		body = struct {
			Type FrameType `json:"type"`
			*Handshake
		}{TypeHandshake, m}
	case *Heartbeat:
		body = struct {
			Type FrameType `json:"type"`
			*Heartbeat
		}{TypeHeartbeat, m}
	case *StateSync:
		body = struct {
			Type FrameType `json:"type"`
			*StateSync
		}{TypeStateSync, m}
	case *Fire:
		body = struct {
			Type FrameType `json:"type"`
			*Fire
		}{TypeFire, m}
	case *Ack:
		body = struct {
			Type FrameType `json:"type"`
			*Ack
		}{TypeAck, m}
	default:
		return nil, fmt.Errorf("encode %T: %w", msg, domain.ErrUnknownFrameType)
	}
	return json.Marshal(body)
}

// Decode parses one text frame. Bad JSON, an unknown type or an empty
// node_id are rejected.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}

	var msg Message
	switch head.Type {
	case TypeHandshake:
		msg = &Handshake{}
	case TypeHeartbeat:
		msg = &Heartbeat{}
	case TypeStateSync:
		msg = &StateSync{}
	case TypeFire:
		msg = &Fire{}
	case TypeAck:
		msg = &Ack{}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFrameType, head.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	if msg.Sender() == "" {
		return nil, fmt.Errorf("%w: missing node_id", domain.ErrMalformedFrame)
	}
	return msg, nil
}
