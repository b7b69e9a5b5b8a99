// Package hub speaks the JSON hub protocol used by the transaction status
// service over a websocket.
package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordSeparator terminates every frame.
const RecordSeparator byte = 0x1e

// Message types of the JSON hub protocol.
const (
	TypeInvocation       = 1
	TypeStreamItem       = 2
	TypeCompletion       = 3
	TypeStreamInvocation = 4
	TypeCancelInvocation = 5
	TypePing             = 6
	TypeClose            = 7
)

// Message represents a parsed hub frame.
type Message struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Split cuts a websocket payload into frames. A payload may carry several.
func Split(data []byte) [][]byte {
	var frames [][]byte
	for len(data) > 0 {
		idx := bytes.IndexByte(data, RecordSeparator)
		if idx < 0 {
			if len(bytes.TrimSpace(data)) > 0 {
				frames = append(frames, data)
			}
			break
		}
		if idx > 0 {
			frames = append(frames, data[:idx])
		}
		data = data[idx+1:]
	}
	return frames
}

// Parse decodes a single frame (without separator).
func Parse(frame []byte) (*Message, error) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return nil, errors.New("hub: empty frame")
	}
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("hub: decode frame: %w", err)
	}
	if msg.Type < TypeInvocation || msg.Type > TypeClose {
		return nil, fmt.Errorf("hub: unsupported message type %d", msg.Type)
	}
	return &msg, nil
}

func encode(v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(body, RecordSeparator), nil
}

// BuildHandshake builds the opening frame.
func BuildHandshake() ([]byte, error) {
	return encode(handshakeRequest{Protocol: "json", Version: 1})
}

// ParseHandshakeResponse checks the server's handshake answer.
func ParseHandshakeResponse(data []byte) error {
	frames := Split(data)
	if len(frames) == 0 {
		return errors.New("hub: empty handshake response")
	}
	var resp handshakeResponse
	if err := json.Unmarshal(frames[0], &resp); err != nil {
		return fmt.Errorf("hub: decode handshake: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("hub: handshake rejected: %s", resp.Error)
	}
	return nil
}

// BuildInvocation builds an invocation frame expecting a completion.
func BuildInvocation(invocationID, target string, args ...interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}
	frame := struct {
		Type         int           `json:"type"`
		InvocationID string        `json:"invocationId,omitempty"`
		Target       string        `json:"target"`
		Arguments    []interface{} `json:"arguments"`
	}{TypeInvocation, invocationID, target, args}
	return encode(frame)
}

// BuildCompletion builds a completion frame for an invocation.
func BuildCompletion(invocationID string, result interface{}, errMsg string) ([]byte, error) {
	frame := struct {
		Type         int         `json:"type"`
		InvocationID string      `json:"invocationId"`
		Result       interface{} `json:"result,omitempty"`
		Error        string      `json:"error,omitempty"`
	}{TypeCompletion, invocationID, result, errMsg}
	return encode(frame)
}

// BuildPing builds a keepalive frame.
func BuildPing() ([]byte, error) {
	return encode(struct {
		Type int `json:"type"`
	}{TypePing})
}

// BuildClose builds a close frame.
func BuildClose(errMsg string) ([]byte, error) {
	return encode(struct {
		Type  int    `json:"type"`
		Error string `json:"error,omitempty"`
	}{TypeClose, errMsg})
}

// Decode convenience helper for invocation arguments.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, err
	}
	return target, nil
}
