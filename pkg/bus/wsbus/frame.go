// Package wsbus carries replica messages between processes over websockets.
//
// A Hub accepts one connection per remote endpoint at /bus?role=<role> and
// routes frames through a bus.Router, so remote endpoints and in-process
// endpoints obtained from Hub.Local share the same delivery rules. A Client
// dials a Hub and satisfies the replica's bus dependency.
//
// Frames are JSON text messages:
//
//	{"op":"send","id":"…","channel":"runtime","message":{…}}
//	{"op":"deliver","id":"…","message":{…},"senderRole":"ui","senderId":"…"}
//	{"op":"reply","id":"…","response":{…}}
//	{"op":"reply","id":"…","suppressed":true}
package wsbus

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-replica/pkg/bus"
	"github.com/goliatone/go-replica/pkg/message"
)

// Op discriminates frames.
type Op string

const (
	OpSend    Op = "send"
	OpDeliver Op = "deliver"
	OpReply   Op = "reply"
)

const (
	codeNoReceiver = "no_receiver"
	codeNoResponse = "no_response"
)

// ErrClosed is returned for requests on a closed connection.
var ErrClosed = errors.New("wsbus: connection closed")

// Frame is the unit exchanged on the socket.
type Frame struct {
	Op         Op                `json:"op"`
	ID         string            `json:"id"`
	Channel    bus.Channel       `json:"channel,omitempty"`
	Message    *message.Message  `json:"message,omitempty"`
	SenderRole message.Role      `json:"senderRole,omitempty"`
	SenderID   string            `json:"senderId,omitempty"`
	Response   *message.Response `json:"response,omitempty"`
	Suppressed bool              `json:"suppressed,omitempty"`
	Code       string            `json:"code,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func replyFrame(id string, resp message.Response, err error) Frame {
	f := Frame{Op: OpReply, ID: id}
	switch {
	case err == nil:
		f.Response = &resp
	case errors.Is(err, message.ErrNotIntendedRecipient):
		f.Suppressed = true
	case errors.Is(err, message.ErrNoReceiver):
		f.Code = codeNoReceiver
		f.Error = err.Error()
	case errors.Is(err, message.ErrNoResponse):
		f.Code = codeNoResponse
		f.Error = err.Error()
	default:
		f.Error = err.Error()
	}
	return f
}

// result converts a reply frame back into the handler or transport result.
func (f Frame) result() (message.Response, error) {
	switch {
	case f.Suppressed:
		return message.Response{}, message.ErrNotIntendedRecipient
	case f.Code == codeNoReceiver:
		return message.Response{}, message.ErrNoReceiver
	case f.Code == codeNoResponse:
		return message.Response{}, message.ErrNoResponse
	case f.Error != "":
		return message.Response{}, fmt.Errorf("wsbus: remote: %s", f.Error)
	case f.Response == nil:
		return message.Response{}, fmt.Errorf("wsbus: reply %s carries no response", f.ID)
	default:
		return *f.Response, nil
	}
}
