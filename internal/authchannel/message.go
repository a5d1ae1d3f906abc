// Package authchannel implements the server side of the SRP-6a handshake
// carried over a single ordered bidirectional message stream (normally a
// WebSocket, but the state machine itself only depends on the small Conn
// interface below so it can be driven in-process by tests).
package authchannel

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the outcome carried on every message.
type Status string

const (
	StatusOK  Status = "OK"
	StatusErr Status = "ERR"
)

// Message is the JSON envelope every auth-channel frame uses:
// {status, data, binary}. When Binary is true, Data holds the
// base64-encoded payload rather than literal text.
type Message struct {
	Status Status `json:"status,omitempty"`
	Data   string `json:"data"`
	Binary bool   `json:"binary,omitempty"`
}

// ErrMalformedMessage is returned when a frame cannot be decoded as a
// Message or its binary payload fails to base64-decode.
var ErrMalformedMessage = errors.New("authchannel: malformed message")

func textMessage(status Status, text string) Message {
	return Message{Status: status, Data: text}
}

func binaryMessage(status Status, payload []byte) Message {
	return Message{Status: status, Data: base64.StdEncoding.EncodeToString(payload), Binary: true}
}

func ok(text string) Message     { return textMessage(StatusOK, text) }
func errMsg(text string) Message { return textMessage(StatusErr, text) }

func (m Message) bytes() ([]byte, error) {
	if !m.Binary {
		return nil, fmt.Errorf("authchannel: message is not binary")
	}
	b, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, ErrMalformedMessage
	}
	return b, nil
}

func encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, ErrMalformedMessage
	}
	return m, nil
}
