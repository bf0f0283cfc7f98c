package room

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manpreetbhatti/codearena/internal/catalog"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

var (
	ErrNotFound         = errors.New("room not found")
	ErrEmptyCode        = errors.New("room code is required")
	ErrInvalid          = errors.New("invalid room request")
	ErrIdentityRequired = fmt.Errorf("%w: username is required", ErrInvalid)
	ErrNameRequired     = fmt.Errorf("%w: name is required", ErrInvalid)
	ErrCreatorRequired  = fmt.Errorf("%w: createdBy is required", ErrInvalid)
)

// Reason selects the wording of the departure notice.
type Reason int

const (
	Left Reason = iota
	Disconnected
)

func (r Reason) notice(identity string) string {
	if r == Disconnected {
		return identity + " disconnected"
	}
	return identity + " left the room"
}

// ProblemSource supplies candidate problems for a difficulty tier.
type ProblemSource interface {
	IDsByDifficulty(d catalog.Difficulty) []int
}

type CreateParams struct {
	Name        string
	Description string
	Difficulty  string
	IsPrivate   bool
	CreatedBy   string
}

// LeaveResult reports what a leave did. Room is the post-leave snapshot;
// when Destroyed is set it is the final state before removal.
type LeaveResult struct {
	Room      Room
	Removed   bool
	Destroyed bool
}

// Registry owns every live room. A room exists only while it has at least
// one participant.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	problems ProblemSource
	rng      *rand.Rand
	now      func() time.Time
	seq      uint64
}

func NewRegistry(problems ProblemSource) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		problems: problems,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		now:      time.Now,
	}
}

// NormalizeCode canonicalises a user-supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create opens a room with the creator as its only participant.
func (reg *Registry) Create(p CreateParams) (Room, error) {
	name := strings.TrimSpace(p.Name)
	creator := strings.TrimSpace(p.CreatedBy)
	if name == "" {
		return Room{}, ErrNameRequired
	}
	if creator == "" {
		return Room{}, ErrCreatorRequired
	}
	// unknown tiers are kept as given and get the default problem
	difficulty, ok := catalog.ParseDifficulty(strings.ToLower(strings.TrimSpace(p.Difficulty)))
	if !ok {
		difficulty = catalog.Difficulty(strings.TrimSpace(p.Difficulty))
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.seq++
	r := &Room{
		ID:           uuid.NewString(),
		Code:         reg.uniqueCode(),
		Name:         name,
		Description:  p.Description,
		Difficulty:   difficulty,
		IsPrivate:    p.IsPrivate,
		ProblemID:    reg.pickProblem(difficulty),
		Participants: []string{creator},
		CreatedBy:    creator,
		CreatedAt:    reg.now().UTC(),
		ChatMessages: []ChatEntry{},
		seq:          reg.seq,
	}
	reg.rooms[r.Code] = r
	return r.snapshot(), nil
}

// uniqueCode draws codes until one is free. Caller holds mu.
func (reg *Registry) uniqueCode() string {
	buf := make([]byte, codeLength)
	for {
		for i := range buf {
			buf[i] = codeAlphabet[reg.rng.IntN(len(codeAlphabet))]
		}
		code := string(buf)
		if _, taken := reg.rooms[code]; !taken {
			return code
		}
	}
}

// pickProblem chooses uniformly among the tier's problems. Caller holds mu.
func (reg *Registry) pickProblem(d catalog.Difficulty) int {
	if reg.problems == nil {
		return catalog.DefaultProblemID
	}
	ids := reg.problems.IDsByDifficulty(d)
	if len(ids) == 0 {
		return catalog.DefaultProblemID
	}
	return ids[reg.rng.IntN(len(ids))]
}

// Join adds identity to the room. Joining twice is a no-op; joined reports
// whether the participant list changed.
func (reg *Registry) Join(code, identity string) (r Room, joined bool, err error) {
	code = NormalizeCode(code)
	if code == "" {
		return Room{}, false, ErrEmptyCode
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Room{}, false, ErrIdentityRequired
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[code]
	if !ok {
		return Room{}, false, ErrNotFound
	}
	if rm.hasParticipant(identity) {
		return rm.snapshot(), false, nil
	}
	rm.Participants = append(rm.Participants, identity)
	rm.ChatMessages = append(rm.ChatMessages, reg.systemEntry(identity+" joined the room"))
	return rm.snapshot(), true, nil
}

// Leave removes identity from the room and destroys the room once it is
// empty. A leave by a non-participant changes nothing.
func (reg *Registry) Leave(code, identity string, reason Reason) (LeaveResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return LeaveResult{}, ErrEmptyCode
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[code]
	if !ok {
		return LeaveResult{}, ErrNotFound
	}
	if identity == "" || !rm.removeParticipant(identity) {
		return LeaveResult{Room: rm.snapshot()}, nil
	}
	rm.ChatMessages = append(rm.ChatMessages, reg.systemEntry(reason.notice(identity)))

	res := LeaveResult{Removed: true}
	if len(rm.Participants) == 0 {
		delete(reg.rooms, code)
		res.Destroyed = true
	}
	res.Room = rm.snapshot()
	return res, nil
}

// AppendChat records a user-authored message.
func (reg *Registry) AppendChat(code, sender, message string) (ChatEntry, error) {
	code = NormalizeCode(code)
	if code == "" {
		return ChatEntry{}, ErrEmptyCode
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[code]
	if !ok {
		return ChatEntry{}, ErrNotFound
	}
	entry := ChatEntry{
		ID:        uuid.NewString(),
		Sender:    sender,
		Message:   message,
		Timestamp: reg.now().UTC(),
		Type:      KindUser,
	}
	rm.ChatMessages = append(rm.ChatMessages, entry)
	return entry, nil
}

func (reg *Registry) systemEntry(message string) ChatEntry {
	return ChatEntry{
		ID:        uuid.NewString(),
		Sender:    SystemSender,
		Message:   message,
		Timestamp: reg.now().UTC(),
		Type:      KindSystem,
	}
}

func (reg *Registry) Get(code string) (Room, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Room{}, ErrEmptyCode
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[code]
	if !ok {
		return Room{}, ErrNotFound
	}
	return rm.snapshot(), nil
}

func (reg *Registry) Exists(code string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.rooms[NormalizeCode(code)]
	return ok
}

// ListPublic returns non-private, non-empty rooms in creation order.
func (reg *Registry) ListPublic() []Summary {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	live := make([]*Room, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		if rm.IsPrivate || len(rm.Participants) == 0 {
			continue
		}
		live = append(live, rm)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	out := make([]Summary, len(live))
	for i, rm := range live {
		out[i] = rm.summary()
	}
	return out
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
