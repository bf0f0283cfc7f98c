package arena

import (
	"github.com/manpreetbhatti/codearena/internal/protocol"
)

// Dispatch routes one inbound event from a connection. Failures are logged
// and never reported to other clients.
func (a *Arena) Dispatch(handle string, env protocol.Envelope) {
	var err error
	switch env.Event {
	case protocol.Authenticate:
		var identity string
		if err = env.Bind(&identity); err == nil {
			a.Authenticate(handle, identity)
		}

	case protocol.JoinRoom:
		var req protocol.RoomRequest
		if err = env.Bind(&req); err == nil {
			err = a.JoinRoomFromConn(handle, req.RoomCode, req.Username)
		}

	case protocol.LeaveRoom:
		var req protocol.RoomRequest
		if err = env.Bind(&req); err == nil {
			err = a.LeaveRoomFromConn(handle, req.RoomCode, req.Username)
		}

	case protocol.CodeChange:
		var req protocol.CodeChangeRequest
		if err = env.Bind(&req); err == nil {
			err = a.CodeChange(handle, req)
		}

	case protocol.ChatMessage:
		var req protocol.ChatRequest
		if err = env.Bind(&req); err == nil {
			err = a.Chat(handle, req)
		}

	default:
		a.logger.Warn("unknown event", "handle", handle, "event", env.Event)
		return
	}

	if err != nil {
		a.logger.Warn("event rejected", "handle", handle, "event", env.Event, "error", err)
	}
}
