// Package presence keeps the two connection tables: identity <-> handle,
// and handle -> occupied rooms. Disconnect cleanup is driven purely by the
// handle so it works whether or not the connection ever authenticated.
package presence

import (
	"sort"
	"sync"
)

// UnknownIdentity labels departures of connections that never authenticated.
const UnknownIdentity = "Unknown User"

type Tracker struct {
	mu         sync.RWMutex
	byIdentity map[string]string
	byHandle   map[string]string
	rooms      map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		byIdentity: make(map[string]string),
		byHandle:   make(map[string]string),
		rooms:      make(map[string]map[string]struct{}),
	}
}

// Authenticate binds handle and identity in both directions. A newer binding
// for the same identity supersedes the older handle's identity mapping.
// Returns the superseded handle, if any.
func (t *Tracker) Authenticate(handle, identity string) (superseded string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.byHandle[handle]; ok && prev != identity {
		if t.byIdentity[prev] == handle {
			delete(t.byIdentity, prev)
		}
	}
	if old, ok := t.byIdentity[identity]; ok && old != handle {
		superseded = old
		delete(t.byHandle, old)
	}
	t.byIdentity[identity] = handle
	t.byHandle[handle] = identity
	return superseded
}

func (t *Tracker) RecordJoin(handle, code string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.rooms[handle]
	if !ok {
		set = make(map[string]struct{})
		t.rooms[handle] = set
	}
	set[code] = struct{}{}
}

func (t *Tracker) RecordLeave(handle, code string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.rooms[handle]
	if !ok {
		return
	}
	delete(set, code)
	if len(set) == 0 {
		delete(t.rooms, handle)
	}
}

// Identity returns the identity bound to handle.
func (t *Tracker) Identity(handle string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byHandle[handle]
	return id, ok
}

// HandlesIn returns every handle currently joined to code.
func (t *Tracker) HandlesIn(code string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for handle, set := range t.rooms {
		if _, ok := set[code]; ok {
			out = append(out, handle)
		}
	}
	sort.Strings(out)
	return out
}

// ForgetRoom drops code from every handle's set. Used when a room is destroyed.
func (t *Tracker) ForgetRoom(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for handle, set := range t.rooms {
		delete(set, code)
		if len(set) == 0 {
			delete(t.rooms, handle)
		}
	}
}

// Departure is the state a connection held when it went away.
type Departure struct {
	Identity      string
	Authenticated bool
	Rooms         []string
}

// Disconnect clears every binding of handle and returns what it held.
// Safe for handles that never authenticated or joined anything.
func (t *Tracker) Disconnect(handle string) Departure {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := Departure{Identity: UnknownIdentity}
	if id, ok := t.byHandle[handle]; ok {
		d.Identity = id
		d.Authenticated = true
		delete(t.byHandle, handle)
		if t.byIdentity[id] == handle {
			delete(t.byIdentity, id)
		}
	}
	for code := range t.rooms[handle] {
		d.Rooms = append(d.Rooms, code)
	}
	sort.Strings(d.Rooms)
	delete(t.rooms, handle)
	return d
}

// Counts reports how many identities are bound and how many handles occupy rooms.
func (t *Tracker) Counts() (identities, occupying int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byIdentity), len(t.rooms)
}
