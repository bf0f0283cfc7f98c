// Package arena coordinates the room registry, presence tracker and
// leaderboard. Every mutation runs under one lock, commits its state change,
// then publishes its events before the lock is released, so events from one
// mutation are never interleaved with another's.
package arena

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/manpreetbhatti/codearena/internal/catalog"
	"github.com/manpreetbhatti/codearena/internal/leaderboard"
	"github.com/manpreetbhatti/codearena/internal/metrics"
	"github.com/manpreetbhatti/codearena/internal/presence"
	"github.com/manpreetbhatti/codearena/internal/protocol"
	"github.com/manpreetbhatti/codearena/internal/room"
)

var ErrInvalidScore = errors.New("invalid data provided")

// Publisher delivers encoded events. It never calls back into the arena.
type Publisher interface {
	ToAll(event protocol.Event, payload any)
	ToHandles(handles []string, exclude string, event protocol.Event, payload any)
}

type Arena struct {
	mu       sync.Mutex
	rooms    *room.Registry
	presence *presence.Tracker
	board    *leaderboard.Board
	catalog  *catalog.Catalog
	pub      Publisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Options struct {
	Catalog   *catalog.Catalog
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

func New(opts Options) *Arena {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.MustLoad()
	}
	return &Arena{
		rooms:    room.NewRegistry(opts.Catalog),
		presence: presence.NewTracker(),
		board:    leaderboard.New(),
		catalog:  opts.Catalog,
		pub:      opts.Publisher,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// roomAudience returns the handles currently joined to code. Caller holds mu.
func (a *Arena) roomAudience(code string) []string {
	return a.presence.HandlesIn(code)
}

func (a *Arena) publishRoomUpdated(r room.Room) {
	a.pub.ToHandles(a.roomAudience(r.Code), "", protocol.RoomUpdated, r)
}

func (a *Arena) publishRoomsChanged() {
	a.pub.ToAll(protocol.RoomsListUpdated, nil)
}

// CreateRoom opens a new room owned by its creator.
func (a *Arena) CreateRoom(p room.CreateParams) (room.Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := a.rooms.Create(p)
	if err != nil {
		return room.Room{}, err
	}
	a.metrics.SetActiveRooms(a.rooms.Count())
	a.logger.Info("room created", "code", r.Code, "difficulty", r.Difficulty, "problem", r.ProblemID, "creator", r.CreatedBy)

	a.publishRoomsChanged()
	return r, nil
}

// JoinRoom adds identity to a room outside of any connection.
func (a *Arena) JoinRoom(code, identity string) (room.Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, joined, err := a.rooms.Join(code, identity)
	if err != nil {
		return room.Room{}, err
	}
	if joined {
		a.logger.Info("user joined room", "code", r.Code, "user", identity, "participants", len(r.Participants))
		a.publishRoomUpdated(r)
		a.publishRoomsChanged()
	}
	return r, nil
}

// Authenticate binds a connection to an identity.
func (a *Arena) Authenticate(handle, identity string) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if old := a.presence.Authenticate(handle, identity); old != "" {
		a.logger.Info("identity re-authenticated on a new connection", "user", identity, "handle", handle, "superseded", old)
		return
	}
	a.logger.Debug("user authenticated", "user", identity, "handle", handle)
}

// JoinRoomFromConn joins identity to a room and subscribes the connection
// to the room's events.
func (a *Arena) JoinRoomFromConn(handle, code, identity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, joined, err := a.rooms.Join(code, identity)
	if err != nil {
		return err
	}
	a.presence.RecordJoin(handle, r.Code)
	if joined {
		a.logger.Info("user joined room", "code", r.Code, "user", identity, "participants", len(r.Participants))
	}

	a.pub.ToHandles(a.roomAudience(r.Code), handle, protocol.UserJoined, protocol.Presence{Username: identity, SocketID: handle})
	a.publishRoomUpdated(r)
	a.publishRoomsChanged()
	return nil
}

// LeaveRoomFromConn is the explicit leave path. An authenticated connection
// always leaves as its bound identity.
func (a *Arena) LeaveRoomFromConn(handle, code, identity string) error {
	code = room.NormalizeCode(code)
	if code == "" {
		return room.ErrEmptyCode
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.presence.Identity(handle); ok {
		identity = id
	}
	a.presence.RecordLeave(handle, code)
	res, err := a.rooms.Leave(code, identity, room.Left)
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		return err
	}

	a.pub.ToHandles(a.roomAudience(code), handle, protocol.UserLeft, protocol.Presence{Username: identity, SocketID: handle})
	switch {
	case res.Destroyed:
		a.retireRoom(code)
	case res.Removed:
		a.publishRoomUpdated(res.Room)
	}
	a.publishRoomsChanged()
	return err
}

// Disconnect retires every membership the connection held, as if each were
// left explicitly, and clears its bindings.
func (a *Arena) Disconnect(handle string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dep := a.presence.Disconnect(handle)
	if len(dep.Rooms) == 0 {
		return
	}

	for _, code := range dep.Rooms {
		audience := a.roomAudience(code)
		a.pub.ToHandles(audience, handle, protocol.UserLeft, protocol.Presence{Username: dep.Identity, SocketID: handle})

		if !dep.Authenticated {
			continue
		}
		res, err := a.rooms.Leave(code, dep.Identity, room.Disconnected)
		if err != nil {
			continue
		}
		switch {
		case res.Destroyed:
			a.retireRoom(code)
		case res.Removed:
			a.publishRoomUpdated(res.Room)
		}
	}
	a.logger.Info("connection closed", "handle", handle, "user", dep.Identity, "rooms", dep.Rooms)
	a.publishRoomsChanged()
}

// retireRoom discards per-room state and announces the reset. Caller holds mu.
func (a *Arena) retireRoom(code string) {
	a.board.DropRoom(code)
	a.presence.ForgetRoom(code)
	a.metrics.SetActiveRooms(a.rooms.Count())
	a.logger.Info("room closed", "code", code)
	a.pub.ToAll(protocol.RoomLeaderboardReset, protocol.RoomReset{RoomCode: code, Message: protocol.RoomClosedMessage})
}

// Chat relays a message to the rest of the room and appends it to the log.
func (a *Arena) Chat(handle string, req protocol.ChatRequest) error {
	code := room.NormalizeCode(req.RoomCode)
	text := strings.TrimSpace(req.Message)
	if code == "" || text == "" {
		return fmt.Errorf("%w: chat needs roomCode and message", protocol.ErrMalformed)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sender := req.Sender
	if id, ok := a.presence.Identity(handle); ok {
		sender = id
	}
	entry, err := a.rooms.AppendChat(code, sender, text)
	if err != nil {
		return err
	}

	a.pub.ToHandles(a.roomAudience(code), handle, protocol.NewMessage, protocol.Chat{
		Message:   entry.Message,
		Sender:    entry.Sender,
		Timestamp: entry.Timestamp,
	})
	if r, err := a.rooms.Get(code); err == nil {
		a.publishRoomUpdated(r)
	}
	return nil
}

// CodeChange relays an editor buffer to the rest of the room. Receivers
// display whichever broadcast arrived last.
func (a *Arena) CodeChange(handle string, req protocol.CodeChangeRequest) error {
	code := room.NormalizeCode(req.RoomCode)
	if code == "" {
		return room.ErrEmptyCode
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.pub.ToHandles(a.roomAudience(code), handle, protocol.CodeUpdate, protocol.CodeBroadcast{Code: req.Code, UserID: handle})
	return nil
}

// UpdateScore credits identity for problemID. Resubmitting a solved problem
// awards nothing but still refreshes the room board and rebroadcasts totals.
func (a *Arena) UpdateScore(identity string, problemID int, roomCode string) (leaderboard.Delta, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || problemID <= 0 {
		return leaderboard.Delta{}, ErrInvalidScore
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	points := catalog.Points(a.catalog.DifficultyOf(problemID))
	delta := a.board.RecordSolve(identity, problemID, points)
	if delta.Credited {
		a.metrics.IncScoringEvents()
		a.logger.Info("problem solved", "user", identity, "problem", problemID, "points", points, "score", delta.Score)
	}

	if code := room.NormalizeCode(roomCode); code != "" && a.rooms.Exists(code) {
		e := a.board.MirrorToRoom(code, identity)
		a.pub.ToHandles(a.roomAudience(code), "", protocol.RoomLeaderboardUpdated, protocol.RoomScore{
			RoomCode:       code,
			Username:       e.Username,
			Score:          e.Score,
			ProblemsSolved: e.ProblemsSolved,
		})
	}

	a.pub.ToAll(protocol.LeaderboardUpdated, protocol.Score{
		Username:       delta.Username,
		Score:          delta.Score,
		ProblemsSolved: delta.ProblemsSolved,
	})
	return delta, nil
}

func (a *Arena) Room(code string) (room.Room, error) {
	return a.rooms.Get(code)
}

func (a *Arena) PublicRooms() []room.Summary {
	return a.rooms.ListPublic()
}

func (a *Arena) GlobalLeaderboard() []leaderboard.Entry {
	return a.board.Global()
}

// RoomLeaderboard returns the ranked board of a live room.
func (a *Arena) RoomLeaderboard(code string) (string, []leaderboard.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	code = room.NormalizeCode(code)
	if !a.rooms.Exists(code) {
		return code, nil, room.ErrNotFound
	}
	return code, a.board.Room(code), nil
}

// AuthenticatedUsers counts identities with a live connection.
func (a *Arena) AuthenticatedUsers() int {
	ids, _ := a.presence.Counts()
	return ids
}

// ActiveRooms counts live rooms.
func (a *Arena) ActiveRooms() int {
	return a.rooms.Count()
}
