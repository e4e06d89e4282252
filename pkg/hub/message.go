// Package hub fans messages out to websocket clients through a single
// owner goroutine.
package hub

import (
	"encoding/json"
	"time"
)

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded text message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data, JPEG frames here
	BinaryMessage
)

// Message is one broadcast payload.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Event is the JSON envelope pushed to diff subscribers.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// EncodeEvent marshals an event envelope.
func EncodeEvent(typ string, at time.Time, data any) (Message, error) {
	b, err := json.Marshal(Event{Type: typ, At: at, Data: data})
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(b), nil
}
