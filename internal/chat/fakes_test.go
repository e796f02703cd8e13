package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"anonchat/internal/models"

	"github.com/google/uuid"
)

var errNoRows = errors.New("no rows in result set")

type memRoomRepo struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
}

func newMemRoomRepo() *memRoomRepo {
	return &memRoomRepo{rooms: make(map[string]*models.Room)}
}

func (r *memRoomRepo) InsertIfAbsent(_ context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; !ok {
		clone := *room
		r.rooms[room.ID] = &clone
	}
	return nil
}

func (r *memRoomRepo) UpdateSettings(_ context.Context, roomID, topic string, capacity int, locked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return errNoRows
	}
	room.Topic = topic
	room.Capacity = capacity
	room.Locked = locked
	return nil
}

func (r *memRoomRepo) Get(_ context.Context, roomID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, errNoRows
	}
	clone := *room
	return &clone, nil
}

func (r *memRoomRepo) ListRecent(_ context.Context, limit int) ([]*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		clone := *room
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memMessageRepo struct {
	mu         sync.Mutex
	messages   map[uuid.UUID]*models.Message
	order      []uuid.UUID
	failInsert bool
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{messages: make(map[uuid.UUID]*models.Message)}
}

func cloneMessage(m *models.Message) *models.Message {
	clone := *m
	clone.Files = append([]models.Attachment(nil), m.Files...)
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		clone.ReplyTo = &ref
	}
	return &clone
}

func (r *memMessageRepo) Insert(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsert {
		return errors.New("insert failed")
	}
	if _, ok := r.messages[m.ID]; ok {
		return nil
	}
	r.messages[m.ID] = cloneMessage(m)
	r.order = append(r.order, m.ID)
	return nil
}

func (r *memMessageRepo) MarkDeleted(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.Deleted = true
	}
	return nil
}

func (r *memMessageRepo) UpdateText(_ context.Context, id uuid.UUID, text string, editedTs time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.Text = text
		ts := editedTs
		m.EditedTs = &ts
	}
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, errNoRows
	}
	return cloneMessage(m), nil
}

func (r *memMessageRepo) ListRecent(_ context.Context, roomID string, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.messages[r.order[i]]
		if m.RoomID == roomID && !m.Deleted {
			out = append(out, cloneMessage(m))
		}
	}
	return out, nil
}

type pinRow struct {
	roomID   string
	pinnedTs time.Time
}

type memPinRepo struct {
	mu   sync.Mutex
	pins map[uuid.UUID]pinRow
}

func newMemPinRepo() *memPinRepo {
	return &memPinRepo{pins: make(map[uuid.UUID]pinRow)}
}

func (r *memPinRepo) Add(_ context.Context, roomID string, messageID uuid.UUID, pinnedTs time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[messageID] = pinRow{roomID: roomID, pinnedTs: pinnedTs}
	return nil
}

func (r *memPinRepo) Remove(_ context.Context, messageID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pins, messageID)
	return nil
}

func (r *memPinRepo) ListRecent(_ context.Context, roomID string, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type entry struct {
		id uuid.UUID
		ts time.Time
	}
	var entries []entry
	for id, row := range r.pins {
		if row.roomID == roomID {
			entries = append(entries, entry{id: id, ts: row.pinnedTs})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.After(entries[j].ts) })
	var ids []uuid.UUID
	for _, e := range entries {
		if len(ids) == limit {
			break
		}
		ids = append(ids, e.id)
	}
	return ids, nil
}

type memAuditRepo struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (r *memAuditRepo) Append(_ context.Context, ev *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *memAuditRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []models.AuditEvent
	for _, ev := range r.events {
		if !ev.Ts.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	removed := int64(len(r.events) - len(kept))
	r.events = kept
	return removed, nil
}

func (r *memAuditRepo) byEvent(event string) []models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditEvent
	for _, ev := range r.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}
