package room

import (
	"time"

	"github.com/manpreetbhatti/codearena/internal/catalog"
)

// SystemSender is the sender label on join/leave notices.
const SystemSender = "System"

type EntryKind string

const (
	KindUser   EntryKind = "user"
	KindSystem EntryKind = "system"
)

// A single line in a room's chat log. Entries are append-only.
type ChatEntry struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Type      EntryKind `json:"type"`
}

// A collaborative practice session addressed by its code
type Room struct {
	ID           string             `json:"id"`
	Code         string             `json:"code"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Difficulty   catalog.Difficulty `json:"difficulty"`
	IsPrivate    bool               `json:"isPrivate"`
	ProblemID    int                `json:"problemId"`
	Participants []string           `json:"participants"`
	CreatedBy    string             `json:"createdBy"`
	CreatedAt    time.Time          `json:"createdAt"`
	ChatMessages []ChatEntry        `json:"chatMessages"`

	seq uint64
}

// Summary is the public listing projection of a room.
type Summary struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	Code             string             `json:"code"`
	Difficulty       catalog.Difficulty `json:"difficulty"`
	ParticipantCount int                `json:"participantCount"`
	CreatedBy        string             `json:"createdBy"`
}

func (r *Room) hasParticipant(identity string) bool {
	for _, p := range r.Participants {
		if p == identity {
			return true
		}
	}
	return false
}

func (r *Room) removeParticipant(identity string) bool {
	for i, p := range r.Participants {
		if p == identity {
			r.Participants = append(r.Participants[:i:i], r.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy that shares no slices with r.
func (r *Room) snapshot() Room {
	out := *r
	out.Participants = make([]string, len(r.Participants))
	copy(out.Participants, r.Participants)
	out.ChatMessages = make([]ChatEntry, len(r.ChatMessages))
	copy(out.ChatMessages, r.ChatMessages)
	return out
}

func (r *Room) summary() Summary {
	return Summary{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		Code:             r.Code,
		Difficulty:       r.Difficulty,
		ParticipantCount: len(r.Participants),
		CreatedBy:        r.CreatedBy,
	}
}
