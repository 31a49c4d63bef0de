// Package websocket fans forwarded messages out to websocket subscribers.
package websocket

import "encoding/json"

// AllTopics subscribes a client to every topic.
const AllTopics = "*"

// Message is the envelope of every frame exchanged with a client.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest is the payload of a subscribe message. Topic is a chain
// name or AllTopics.
type SubscribeRequest struct {
	Topic string `json:"topic"`
}

// UnsubscribeRequest is the payload of an unsubscribe message.
type UnsubscribeRequest struct {
	Topic string `json:"topic"`
}

// Event is one broadcast message.
type Event struct {
	Topic string      `json:"topic"`
	Key   string      `json:"key"`
	Data  interface{} `json:"data"`
}

// ErrorMessage is the payload of an error message.
type ErrorMessage struct {
	Error string `json:"error"`
}

// SuccessMessage is the payload of a success message.
type SuccessMessage struct {
	Message string `json:"message"`
}
