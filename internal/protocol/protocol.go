// Package protocol is the event-channel wire contract. Every frame is a JSON
// text message of the form {"event": "<name>", "data": <payload>}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Event string

// Inbound events (client -> server)
const (
	Authenticate Event = "authenticate"
	JoinRoom     Event = "join-room"
	LeaveRoom    Event = "leave-room"
	CodeChange   Event = "code-change"
	ChatMessage  Event = "chat-message"
)

// Outbound events (server -> client)
const (
	RoomUpdated            Event = "room-updated"
	RoomsListUpdated       Event = "rooms-list-updated"
	UserJoined             Event = "user-joined"
	UserLeft               Event = "user-left"
	NewMessage             Event = "new-message"
	CodeUpdate             Event = "code-update"
	LeaderboardUpdated     Event = "leaderboard-updated"
	RoomLeaderboardUpdated Event = "room-leaderboard-updated"
	RoomLeaderboardReset   Event = "room-leaderboard-reset"
)

// RoomClosedMessage accompanies room-leaderboard-reset.
const RoomClosedMessage = "Room closed - leaderboard reset"

var ErrMalformed = errors.New("malformed frame")

type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outbound frame. A nil payload omits data.
func Encode(event Event, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses an inbound frame without interpreting its payload.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	return env, nil
}

// Bind unmarshals the envelope's data into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Event, err)
	}
	return nil
}

// Inbound payloads

type RoomRequest struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

type CodeChangeRequest struct {
	RoomCode string `json:"roomCode"`
	Code     string `json:"code"`
}

type ChatRequest struct {
	RoomCode string `json:"roomCode"`
	Message  string `json:"message"`
	Sender   string `json:"sender"`
}

// Outbound payloads

type Presence struct {
	Username string `json:"username"`
	SocketID string `json:"socketId"`
}

type Chat struct {
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type CodeBroadcast struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

type Score struct {
	Username       string `json:"username"`
	Score          int    `json:"score"`
	ProblemsSolved int    `json:"problemsSolved"`
}

type RoomScore struct {
	RoomCode       string `json:"roomCode"`
	Username       string `json:"username"`
	Score          int    `json:"score"`
	ProblemsSolved int    `json:"problemsSolved"`
}

type RoomReset struct {
	RoomCode string `json:"roomCode"`
	Message  string `json:"message"`
}
