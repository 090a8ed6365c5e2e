package hub

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"drawsync-server/domain"
	"drawsync-server/oplog"
)

// DefaultGrace is how long an empty room survives before it is torn down.
const DefaultGrace = 60 * time.Second

type Room struct {
	ID        string
	CreatedAt time.Time
	Log       *oplog.Log

	mu      sync.Mutex
	members map[string]*domain.Member
	// removed is set, under mu, once the room has left the registry.
	removed bool
}

// Users lists the room's members ordered by join time. Call it from inside
// Registry.Update or a membership callback.
func (r *Room) Users() []domain.User {
	members := make([]*domain.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})

	users := make([]domain.User, len(members))
	for i, m := range members {
		users[i] = m.User
	}
	return users
}

type RoomInfo struct {
	ID         string    `json:"id"`
	Members    int       `json:"members"`
	Operations int       `json:"operations"`
	CreatedAt  time.Time `json:"createdAt"`
}

type teardown struct {
	timer *time.Timer
}

// Registry owns every room. Lock order is Registry.mu then Room.mu; the
// membership and update paths release Registry.mu before locking a room, so
// work inside one room never holds up another.
type Registry struct {
	grace time.Duration

	mu        sync.RWMutex
	rooms     map[string]*Room
	teardowns map[string]*teardown
}

func New(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Registry{
		grace:     grace,
		rooms:     make(map[string]*Room),
		teardowns: make(map[string]*teardown),
	}
}

// GetOrCreate returns the room, creating it if needed. A room created here
// has no members yet, so its teardown is scheduled right away.
func (h *Registry) GetOrCreate(roomID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, created := h.getOrCreateLocked(roomID)
	if created {
		h.scheduleLocked(roomID)
	}
	return r
}

func (h *Registry) getOrCreateLocked(roomID string) (*Room, bool) {
	r, exists := h.rooms[roomID]
	if exists {
		return r, false
	}
	r = &Room{
		ID:        roomID,
		CreatedAt: time.Now(),
		Log:       oplog.New(),
		members:   make(map[string]*domain.Member),
	}
	h.rooms[roomID] = r
	slog.Info("room created", "room", roomID)
	return r, true
}

// AddMember inserts m and then runs fn, if any, inside the same room critical
// section. Only the room is locked while fn runs. A pending teardown is left
// alone; it re-checks emptiness when it fires.
func (h *Registry) AddMember(roomID string, m *domain.Member, fn func(*Room)) *Room {
	for {
		h.mu.Lock()
		r, _ := h.getOrCreateLocked(roomID)
		h.mu.Unlock()

		r.mu.Lock()
		if r.removed {
			// torn down between the lookup and the lock
			r.mu.Unlock()
			continue
		}
		r.members[m.ID] = m
		count := len(r.members)
		if fn != nil {
			fn(r)
		}
		r.mu.Unlock()

		slog.Info("client joined", "room", roomID, "clientId", m.ID, "clients", count)
		return r
	}
}

// RemoveMember deletes the member and runs fn, if any, before releasing the
// room. An emptied room is scheduled for teardown after the grace window.
func (h *Registry) RemoveMember(roomID, memberID string, fn func(*Room)) {
	r, exists := h.Get(roomID)
	if !exists {
		return
	}

	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return
	}
	delete(r.members, memberID)
	count := len(r.members)
	if fn != nil {
		fn(r)
	}
	r.mu.Unlock()

	slog.Info("client left", "room", roomID, "clientId", memberID, "clients", count)

	if count == 0 {
		h.mu.Lock()
		if h.rooms[roomID] == r {
			h.scheduleLocked(roomID)
		}
		h.mu.Unlock()
	}
}

func (h *Registry) scheduleLocked(roomID string) {
	if old, ok := h.teardowns[roomID]; ok {
		old.timer.Stop()
	}
	t := &teardown{}
	t.timer = time.AfterFunc(h.grace, func() { h.expire(roomID, t) })
	h.teardowns[roomID] = t
	slog.Debug("room teardown scheduled", "room", roomID, "grace", h.grace)
}

func (h *Registry) expire(roomID string, t *teardown) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.teardowns[roomID] != t {
		return
	}
	delete(h.teardowns, roomID)

	r, exists := h.rooms[roomID]
	if !exists {
		return
	}

	r.mu.Lock()
	empty := len(r.members) == 0
	if empty {
		r.removed = true
	}
	r.mu.Unlock()

	if !empty {
		slog.Debug("room teardown skipped, members rejoined", "room", roomID)
		return
	}
	delete(h.rooms, roomID)
	slog.Info("room removed", "room", roomID)
}

func (h *Registry) Get(roomID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, exists := h.rooms[roomID]
	return r, exists
}

// Update runs fn with exclusive access to the room. It reports false, without
// calling fn, when the room does not exist.
func (h *Registry) Update(roomID string, fn func(*Room)) bool {
	r, exists := h.Get(roomID)
	if !exists {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return false
	}
	fn(r)
	return true
}

func (h *Registry) Members(roomID string) []domain.User {
	var users []domain.User
	if !h.Update(roomID, func(r *Room) { users = r.Users() }) {
		return []domain.User{}
	}
	return users
}

func (h *Registry) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RoomInfo, 0, len(h.rooms))
	for _, r := range h.rooms {
		r.mu.Lock()
		out = append(out, RoomInfo{
			ID:         r.ID,
			Members:    len(r.members),
			Operations: r.Log.Len(),
			CreatedAt:  r.CreatedAt,
		})
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Registry) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		r.mu.Lock()
		clients += len(r.members)
		r.mu.Unlock()
	}
	return rooms, clients
}

// Close cancels pending teardowns and drops every room.
func (h *Registry) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, t := range h.teardowns {
		t.timer.Stop()
		delete(h.teardowns, id)
	}
	n := len(h.rooms)
	for _, r := range h.rooms {
		r.mu.Lock()
		r.removed = true
		r.mu.Unlock()
	}
	h.rooms = make(map[string]*Room)
	slog.Info("registry closed", "rooms", n)
}
