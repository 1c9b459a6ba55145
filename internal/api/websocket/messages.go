package websocket

import (
	"time"

	"github.com/KevinKickass/PinBridge/internal/bridge"
	"github.com/KevinKickass/PinBridge/internal/display"
	"github.com/KevinKickass/PinBridge/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Device messages
	MessageTypeCoil   MessageType = "coil_changed"
	MessageTypeLamp   MessageType = "lamp_changed"
	MessageTypeSwitch MessageType = "switch_changed"

	// Display messages
	MessageTypeDisplayAvailable MessageType = "display_available"
	MessageTypeDisplayFrame     MessageType = "display_frame"

	// Session messages
	MessageTypeSessionStarted MessageType = "session_started"
	MessageTypeSessionEnded   MessageType = "session_ended"
	MessageTypeGameEnded      MessageType = "game_ended"
	MessageTypeBridgeState    MessageType = "bridge_state"

	MessageTypeMech MessageType = "mech_updated"

	// System lifecycle (reload, shutdown)
	MessageTypeSystemStatus MessageType = "system_status"

	// Connection messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type DeviceData struct {
	Device types.DeviceID   `json:"device"`
	Active *bool            `json:"active,omitempty"`
	Value  *int             `json:"value,omitempty"`
	Source types.LampSource `json:"source,omitempty"`
}

// FrameData carries a decoded frame. Data is base64 in JSON.
type FrameData struct {
	Display string         `json:"display"`
	Format  display.Format `json:"format"`
	Data    []byte         `json:"data"`
}

type StateData struct {
	State string `json:"state"`
}

func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewStateMessage(state bridge.SessionState) Message {
	return NewMessage(MessageTypeBridgeState, StateData{State: state.String()})
}

// FromEvent converts a bridge event into its wire message.
func FromEvent(ev bridge.Event) Message {
	msg := Message{Type: MessageType(ev.Kind), Timestamp: ev.Time}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	switch ev.Kind {
	case bridge.EventCoilChanged, bridge.EventSwitchChanged:
		active := ev.Active
		msg.Data = DeviceData{Device: ev.Device, Active: &active}
	case bridge.EventLampChanged:
		value := ev.Value
		msg.Data = DeviceData{Device: ev.Device, Value: &value, Source: ev.Source}
	case bridge.EventDisplayAvailable:
		msg.Data = ev.Display
	case bridge.EventDisplayFrame:
		if ev.Frame != nil {
			msg.Data = FrameData{
				Display: ev.Frame.DisplayName(),
				Format:  ev.Frame.Format(),
				Data:    ev.Frame.Bytes(),
			}
		}
	case bridge.EventSessionStarted:
		msg.Data = ev.Session
	case bridge.EventMechUpdated:
		msg.Data = ev.Mech
	}
	return msg
}
