// Package ipc lets worker processes share the coordinator's session store.
//
// Workers send get, set and remove envelopes; the coordinator applies them
// to its store and answers each with a response envelope carrying the same
// id. The coordinator also hands inbound updates to workers in update
// envelopes, which are never answered.
package ipc

import (
	"errors"
	"fmt"
)

// Envelope types.
const (
	TypeGet      = "get"
	TypeSet      = "set"
	TypeRemove   = "remove"
	TypeResponse = "response"
	TypeUpdate   = "update"
)

// MaxFrameBytes bounds one encoded envelope.
const MaxFrameBytes = 4 << 20

// ErrClosed is returned by calls on a closed connection.
var ErrClosed = errors.New("ipc connection closed")

// Envelope is one message on the wire.
type Envelope struct {
	Type    string  `json:"type" cbor:"type" msgpack:"type"`
	Payload Payload `json:"payload" cbor:"payload" msgpack:"payload"`
}

// Payload carries the fields of every envelope type. Requests set
// Namespace, Key and, for set, Value. Responses set Value, Found and
// Error. Update envelopes carry the JSON-encoded update in Update.
type Payload struct {
	ID        string `json:"id,omitempty" cbor:"id,omitempty" msgpack:"id,omitempty"`
	Namespace string `json:"namespace,omitempty" cbor:"namespace,omitempty" msgpack:"namespace,omitempty"`
	Key       string `json:"key,omitempty" cbor:"key,omitempty" msgpack:"key,omitempty"`
	Value     []byte `json:"value,omitempty" cbor:"value,omitempty" msgpack:"value,omitempty"`
	Found     bool   `json:"found,omitempty" cbor:"found,omitempty" msgpack:"found,omitempty"`
	Error     string `json:"error,omitempty" cbor:"error,omitempty" msgpack:"error,omitempty"`
	Update    []byte `json:"update,omitempty" cbor:"update,omitempty" msgpack:"update,omitempty"`
}

// RemoteError is a store failure reported by the coordinator.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Op, e.Message)
}

// Validate checks an envelope for protocol correctness.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeGet, TypeSet, TypeRemove:
		if e.Payload.ID == "" {
			return fmt.Errorf("%s: id is required", e.Type)
		}
		if e.Payload.Namespace == "" || e.Payload.Key == "" {
			return fmt.Errorf("%s: namespace and key are required", e.Type)
		}
	case TypeResponse:
		if e.Payload.ID == "" {
			return fmt.Errorf("response: id is required")
		}
	case TypeUpdate:
		if len(e.Payload.Update) == 0 {
			return fmt.Errorf("update: update is required")
		}
	default:
		return fmt.Errorf("unknown envelope type %q", e.Type)
	}
	return nil
}
