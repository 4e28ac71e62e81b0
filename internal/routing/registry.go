package routing

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nekbot/nekirc/internal/address"
)

var ErrUnknownRoom = errors.New("unknown room")

// Sender delivers outbound messages for a joined room
type Sender interface {
	Send(target, body string) error
}

// Membership is a confirmed, live membership of a room
type Membership struct {
	Room address.RoomAddress
	// JoinedBy is the source of the JOIN that confirmed the membership
	JoinedBy string
	Session  Sender
}

// Send posts body to the room through the owning session
func (m *Membership) Send(body string) error {
	return m.Session.Send(m.Room.Room, body)
}

// Registry is the cross-session view of joined rooms, keyed by "room@host:port"
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Membership
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Membership),
	}
}

// Register records a membership. A later join of the same room replaces
// the earlier record.
func (r *Registry) Register(m *Membership) {
	key := m.Room.Key()

	r.mu.Lock()
	r.rooms[key] = m
	r.mu.Unlock()

	log.Debug().Str("module", "routing.registry").Str("room", key).Str("joined_by", m.JoinedBy).Msg("registered room")
}

// Lookup returns the membership for a room address
func (r *Registry) Lookup(room address.RoomAddress) (*Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rooms[room.Key()]
	return m, ok
}

// Len returns the number of registered rooms
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Snapshot returns a consistent copy of the registry, ordered by key
func (r *Registry) Snapshot() []Membership {
	r.mu.RLock()
	out := make([]Membership, 0, len(r.rooms))
	for _, m := range r.rooms {
		out = append(out, *m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Room.Key() < out[j].Room.Key()
	})
	return out
}
