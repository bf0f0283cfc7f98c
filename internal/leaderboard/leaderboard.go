// Package leaderboard keeps the monotonic per-user score ledger and the
// per-room mirrors of it.
//
// Rankings are sorted by score descending. Equal scores keep first-seen
// order: the order in which each user was first credited (globally) or first
// mirrored into the room.
package leaderboard

import (
	"sort"
	"sync"
)

type Entry struct {
	Username       string `json:"username"`
	Score          int    `json:"score"`
	ProblemsSolved int    `json:"problemsSolved"`
}

// Delta is the outcome of one RecordSolve call.
type Delta struct {
	Entry
	Awarded  int  `json:"awarded"`
	Credited bool `json:"credited"`
}

type ledger struct {
	entry  Entry
	solved map[int]struct{}
}

type roomBoard struct {
	order   []string
	entries map[string]Entry
}

type Board struct {
	mu    sync.RWMutex
	users map[string]*ledger
	order []string
	rooms map[string]*roomBoard
}

func New() *Board {
	return &Board{
		users: make(map[string]*ledger),
		rooms: make(map[string]*roomBoard),
	}
}

// RecordSolve credits identity for problemID worth points. A problem already
// in the identity's solved set awards nothing and returns the current totals.
func (b *Board) RecordSolve(identity string, problemID, points int) Delta {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.users[identity]
	if !ok {
		l = &ledger{entry: Entry{Username: identity}, solved: make(map[int]struct{})}
		b.users[identity] = l
		b.order = append(b.order, identity)
	}
	if _, done := l.solved[problemID]; done {
		return Delta{Entry: l.entry}
	}
	l.solved[problemID] = struct{}{}
	l.entry.Score += points
	l.entry.ProblemsSolved++
	return Delta{Entry: l.entry, Awarded: points, Credited: true}
}

// MirrorToRoom copies identity's current global totals into the room board.
func (b *Board) MirrorToRoom(code, identity string) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := Entry{Username: identity}
	if l, ok := b.users[identity]; ok {
		e = l.entry
	}
	rb, ok := b.rooms[code]
	if !ok {
		rb = &roomBoard{entries: make(map[string]Entry)}
		b.rooms[code] = rb
	}
	if _, seen := rb.entries[identity]; !seen {
		rb.order = append(rb.order, identity)
	}
	rb.entries[identity] = e
	return e
}

// Global returns every user's totals ranked.
func (b *Board) Global() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.users[id].entry)
	}
	rank(out)
	return out
}

// Room returns the room's mirrored entries ranked. A room nobody has scored
// in yields an empty board.
func (b *Board) Room(code string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rb, ok := b.rooms[code]
	if !ok {
		return []Entry{}
	}
	out := make([]Entry, 0, len(rb.order))
	for _, id := range rb.order {
		out = append(out, rb.entries[id])
	}
	rank(out)
	return out
}

// DropRoom discards a room's board.
func (b *Board) DropRoom(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, code)
}

func rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
}
