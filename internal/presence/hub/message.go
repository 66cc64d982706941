package hub

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionSignal      Action = "signal"
)

const (
	msgTypePusher = "pusher"
	msgTypeSignal = "signal"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrMissingEvent    = errors.New("event name is required")
	ErrMissingRemoteID = errors.New("remoteId is required")
)

// ClientFrame is the inbound wire format, a tagged union on the action
// field: subscribe/unsubscribe carry an event name, signal carries the
// opaque peer negotiation payload.
type ClientFrame struct {
	Action   Action  `json:"action"`
	Event    string  `json:"event,omitempty"`
	PeerData string  `json:"peerData,omitempty"`
	RemoteID string  `json:"remoteId,omitempty"`
	Type     string  `json:"type,omitempty"`
	Data     *string `json:"data,omitempty"`
}

// DecodeClientFrame parses and validates one inbound text frame. Anything
// outside the closed set of actions is rejected here, deterministically,
// rather than by trying alternative shapes.
func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ClientFrame{}, fmt.Errorf("malformed frame: %w", err)
	}

	switch frame.Action {
	case ActionSubscribe, ActionUnsubscribe:
		if frame.Event == "" {
			return ClientFrame{}, ErrMissingEvent
		}
	case ActionSignal:
		if frame.RemoteID == "" {
			return ClientFrame{}, ErrMissingRemoteID
		}
	default:
		return ClientFrame{}, fmt.Errorf("%w: %q", ErrUnknownAction, frame.Action)
	}

	return frame, nil
}

// EventMessage is the outbound pub/sub frame shared by presence events and
// server-initiated dispatches.
type EventMessage struct {
	Event   string `json:"event"`
	Data    any    `json:"data"`
	MsgType string `json:"msgType"`
}

type SignalMessage struct {
	Action   string  `json:"action"`
	PeerData string  `json:"peerData"`
	RemoteID string  `json:"remoteId"`
	Type     string  `json:"type"`
	Data     *string `json:"data"`
	MsgType  string  `json:"msgType"`
}

type SignalErrorMessage struct {
	Error    string `json:"error"`
	RemoteID string `json:"remoteId"`
	MsgType  string `json:"msgType"`
}

func marshalEvent(event string, data any) ([]byte, error) {
	return json.Marshal(EventMessage{
		Event:   event,
		Data:    data,
		MsgType: msgTypePusher,
	})
}

func marshalSignal(senderID string, frame ClientFrame) ([]byte, error) {
	return json.Marshal(SignalMessage{
		Action:   string(ActionSignal),
		PeerData: frame.PeerData,
		RemoteID: senderID,
		Type:     frame.Type,
		Data:     frame.Data,
		MsgType:  msgTypeSignal,
	})
}

func marshalSignalError(message, remoteID string) ([]byte, error) {
	return json.Marshal(SignalErrorMessage{
		Error:    message,
		RemoteID: remoteID,
		MsgType:  msgTypeSignal,
	})
}
