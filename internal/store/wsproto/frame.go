// Package wsproto is the wire format between wsstore clients and the
// store server: one msgpack encoded Frame per binary websocket message.
package wsproto

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/BioHazard786/livestream/internal/store"
)

// Request ops, sent by clients.
const (
	OpSet          = "set"
	OpPush         = "push"
	OpGet          = "get"
	OpRemove       = "remove"
	OpSubscribe    = "subscribe"
	OpUnsubscribe  = "unsubscribe"
	OpOnDisconnect = "on_disconnect"
)

// Response ops, sent by the server.
const (
	OpAck   = "ack"
	OpError = "error"
	OpEvent = "event"
)

// Frame is a request, its reply or a subscription event. Replies echo the
// request ID; events carry the client-chosen subscription ID.
type Frame struct {
	ID       uint64          `msgpack:"id,omitempty"`
	Op       string          `msgpack:"op"`
	Path     string          `msgpack:"path,omitempty"`
	Key      string          `msgpack:"key,omitempty"`
	Value    []byte          `msgpack:"value,omitempty"`
	Sub      uint64          `msgpack:"sub,omitempty"`
	Snapshot *store.Snapshot `msgpack:"snapshot,omitempty"`
	Error    string          `msgpack:"error,omitempty"`
}

func Encode(f *Frame) ([]byte, error) {
	return msgpack.Marshal(f)
}

func Decode(b []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func Ack(req *Frame) *Frame {
	return &Frame{ID: req.ID, Op: OpAck}
}

func Fail(req *Frame, err error) *Frame {
	return &Frame{ID: req.ID, Op: OpError, Error: err.Error()}
}

func Event(sub uint64, snap store.Snapshot) *Frame {
	return &Frame{Op: OpEvent, Sub: sub, Snapshot: &snap}
}
