package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"anonchat/internal/models"
	"anonchat/internal/repository"
)

// room is the in-memory runtime state of one chat room. It is created
// lazily from the durable record on first reference and destroyed when the
// last member leaves; the durable record persists for reuse and history.
type room struct {
	id       string
	topic    string
	capacity int
	locked   bool

	// owner is the userId of the first session to join. It is set once
	// and never transferred, even when the owner disconnects.
	owner string

	members map[*Session]bool
}

// RoomInfo is a point-in-time snapshot of a room's settings.
type RoomInfo struct {
	ID       string
	Topic    string
	Capacity int
	Locked   bool
	Owner    string
}

func (r *room) info() RoomInfo {
	return RoomInfo{ID: r.id, Topic: r.topic, Capacity: r.capacity, Locked: r.locked, Owner: r.owner}
}

// Hub owns the runtime state of every live room: membership sets, settings
// and ownership. All mutation happens through its methods; broadcast fans
// out over the members' buffered send channels.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room

	roomRepo repository.RoomRepo
}

func NewHub(roomRepo repository.RoomRepo) *Hub {
	log.Println("[HUB] Initializing new Hub instance...")
	return &Hub{
		rooms:    make(map[string]*room),
		roomRepo: roomRepo,
	}
}

// ResolveRoom ensures both the durable record and the runtime state for a
// room exist, minting a fresh id when none was requested. A lockHint from
// the connecting client locks the room it creates.
func (h *Hub) ResolveRoom(ctx context.Context, roomID string, lockHint bool) (string, error) {
	if roomID == "" {
		roomID = newRoomID()
	}

	err := h.roomRepo.InsertIfAbsent(ctx, &models.Room{
		ID:        roomID,
		Capacity:  models.RoomCapDefault,
		Locked:    lockHint,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", err
	}

	h.mu.RLock()
	_, live := h.rooms[roomID]
	h.mu.RUnlock()
	if live {
		return roomID, nil
	}

	record, err := h.roomRepo.Get(ctx, roomID)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		r := &room{
			id:       roomID,
			topic:    record.Topic,
			capacity: record.Capacity,
			locked:   record.Locked || lockHint,
			members:  make(map[*Session]bool),
		}
		if r.capacity == 0 {
			r.capacity = models.RoomCapDefault
		}
		h.rooms[roomID] = r
		log.Printf("[HUB] Room %s loaded into runtime state", roomID)
	}
	return roomID, nil
}

// Join adds the session to the room's membership. The first joiner becomes
// the owner. Capacity is advisory: joins are never refused for exceeding it.
func (h *Hub) Join(roomID string, s *Session) (first bool, info RoomInfo, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		// ResolveRoom was skipped or the room was torn down in between;
		// recreate with defaults.
		r = &room{id: roomID, capacity: models.RoomCapDefault, members: make(map[*Session]bool)}
		h.rooms[roomID] = r
	}

	first = len(r.members) == 0
	if first {
		r.owner = s.UserID
		log.Printf("[HUB] User %s is now owner of room %s", s.UserID, roomID)
	}
	r.members[s] = true
	s.RoomID = roomID

	return first, r.info(), len(r.members)
}

// Leave removes the session from its room and tears down the runtime room
// at zero members. Returns the remaining member count.
func (h *Hub) Leave(s *Session) (count int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, exists := h.rooms[s.RoomID]
	if !exists || !r.members[s] {
		return 0, false
	}

	delete(r.members, s)
	count = len(r.members)
	if count == 0 {
		delete(h.rooms, r.id)
		log.Printf("[HUB] Room %s drained, runtime state destroyed", r.id)
	}
	return count, true
}

// UpdateSettings applies owner-initiated room settings. It is a no-op for
// non-owners. Capacity is clamped to [2,200] and the topic truncated; the
// effective settings are persisted and returned for broadcast.
func (h *Hub) UpdateSettings(ctx context.Context, roomID, callerUserID, topic string, capacity int, locked bool) (RoomInfo, bool) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok || r.owner != callerUserID {
		h.mu.Unlock()
		return RoomInfo{}, false
	}

	if runes := []rune(topic); len(runes) > models.MaxTopicLen {
		topic = string(runes[:models.MaxTopicLen])
	}
	if capacity == 0 {
		capacity = models.RoomCapDefault
	}
	if capacity < models.RoomCapMin {
		capacity = models.RoomCapMin
	}
	if capacity > models.RoomCapMax {
		capacity = models.RoomCapMax
	}

	r.topic = topic
	r.capacity = capacity
	r.locked = locked
	info := r.info()
	h.mu.Unlock()

	if err := h.roomRepo.UpdateSettings(ctx, roomID, info.Topic, info.Capacity, info.Locked); err != nil {
		log.Printf("[HUB] Failed to persist settings for room %s: %v", roomID, err)
	}
	return info, true
}

// IsOwner reports whether userID owns the live room.
func (h *Hub) IsOwner(roomID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	return ok && r.owner != "" && r.owner == userID
}

func (h *Hub) MemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[roomID]; ok {
		return len(r.members)
	}
	return 0
}

// MemberCounts returns live member counts per room for the admin state view.
func (h *Hub) MemberCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int, len(h.rooms))
	for id, r := range h.rooms {
		counts[id] = len(r.members)
	}
	return counts
}

// Broadcast fans an encoded event out to every member of the room. Slow
// consumers whose send buffer is full are evicted.
func (h *Hub) Broadcast(roomID string, payload []byte) {
	h.broadcast(roomID, nil, payload)
}

// BroadcastOthers sends to every member of the room except one; used for
// typing signals, which never echo back to the typer.
func (h *Hub) BroadcastOthers(roomID string, except *Session, payload []byte) {
	h.broadcast(roomID, except, payload)
}

func (h *Hub) broadcast(roomID string, except *Session, payload []byte) {
	if payload == nil {
		return
	}

	h.mu.RLock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	members := make([]*Session, 0, len(r.members))
	for s := range r.members {
		if s != except {
			members = append(members, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range members {
		if !s.TrySend(payload) {
			log.Printf("[HUB] WARNING: Session %s buffer full. Evicting slow consumer.", s.ID)
			go s.Close()
		}
	}
}

// DisconnectIP forcibly closes every connected session whose resolved IP
// matches; the side effect of an admin ban.
func (h *Hub) DisconnectIP(ip string) int {
	h.mu.RLock()
	var victims []*Session
	for _, r := range h.rooms {
		for s := range r.members {
			if s.IP == ip {
				victims = append(victims, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range victims {
		log.Printf("[HUB] Forcibly disconnecting session %s (banned IP)", s.ID)
		s.Close()
	}
	return len(victims)
}

// Shutdown closes every connected session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	var all []*Session
	for _, r := range h.rooms {
		for s := range r.members {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()

	log.Printf("[HUB] Shutting down, closing %d sessions", len(all))
	for _, s := range all {
		s.Close()
	}
}
