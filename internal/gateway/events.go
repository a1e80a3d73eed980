// Package gateway pushes ordered events to connected devices over WebSocket.
//
// Every connected device gets one logical stream. Events carry a per-connection
// counter starting at 0; a client that detects a gap asks for replay with
// {"replay": C} and receives every retained event with counter > C in order,
// or a resync signal when the gap exceeds the retention window.
package gateway

import (
	"encoding/json"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/model"
)

// EventType tags the closed set of event variants.
type EventType string

const (
	EventMessage        EventType = "message"
	EventMessageAck     EventType = "message_ack"
	EventChannelCreated EventType = "channel_created"
	EventDeviceAdded    EventType = "device_added"
	EventPing           EventType = "ping"
	EventResync         EventType = "resync"
)

// Event is one frame body. Exactly one variant pointer is set, selected by
// Type; ping and resync carry no body.
type Event struct {
	Type    EventType            `json:"type"`
	Message *MessageEvent        `json:"message,omitempty"`
	Ack     *MessageAckEvent     `json:"ack,omitempty"`
	Channel *ChannelCreatedEvent `json:"channel,omitempty"`
	Device  *DeviceAddedEvent    `json:"device,omitempty"`
}

// MessageEvent delivers one ciphertext payload to its recipient device.
type MessageEvent struct {
	MessageID      uuid.UUID `json:"message_id"`
	ChannelID      uuid.UUID `json:"channel_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	SenderDeviceID uuid.UUID `json:"sender_device_id"`
	Ciphertext     []byte    `json:"ciphertext"`
	IsPreKey       bool      `json:"is_pre_key"`
}

// MessageAckEvent confirms persistence of a send to the sender's own device.
type MessageAckEvent struct {
	MessageID uuid.UUID `json:"message_id"`
	ChannelID uuid.UUID `json:"channel_id"`
}

// ChannelCreatedEvent tells a participant's device about a new channel.
type ChannelCreatedEvent struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// DeviceAddedEvent tells a user's devices that a sibling device registered.
type DeviceAddedEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	DeviceID uuid.UUID `json:"device_id"`
}

// NewMessageEvent builds the delivery event for one fan-out row.
func NewMessageEvent(m *model.Message, p model.MessagePayload) Event {
	return Event{Type: EventMessage, Message: &MessageEvent{
		MessageID:      m.ID,
		ChannelID:      m.ChannelID,
		SenderID:       m.SenderID,
		SenderDeviceID: m.SenderDeviceID,
		Ciphertext:     p.Ciphertext,
		IsPreKey:       p.IsPreKey,
	}}
}

func NewMessageAckEvent(m *model.Message) Event {
	return Event{Type: EventMessageAck, Ack: &MessageAckEvent{MessageID: m.ID, ChannelID: m.ChannelID}}
}

func NewChannelCreatedEvent(channelID uuid.UUID) Event {
	return Event{Type: EventChannelCreated, Channel: &ChannelCreatedEvent{ChannelID: channelID}}
}

func NewDeviceAddedEvent(userID, deviceID uuid.UUID) Event {
	return Event{Type: EventDeviceAdded, Device: &DeviceAddedEvent{UserID: userID, DeviceID: deviceID}}
}

func pingEvent() Event   { return Event{Type: EventPing} }
func resyncEvent() Event { return Event{Type: EventResync} }

// Frame is the wire envelope around every event.
type Frame struct {
	Counter uint64 `json:"counter"`
	Event   Event  `json:"event"`
}

// ReplayRequest is the only frame a client may send on the stream.
type ReplayRequest struct {
	Replay *uint64 `json:"replay"`
}

func encodeFrame(counter uint64, e Event) ([]byte, error) {
	return json.Marshal(Frame{Counter: counter, Event: e})
}
