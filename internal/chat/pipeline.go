package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"anonchat/internal/abuse"
	"anonchat/internal/config"
	"anonchat/internal/models"
	"anonchat/internal/repository"
	"anonchat/internal/textfilter"

	"github.com/google/uuid"
)

// ErrNotFound marks operations on a missing or soft-deleted message.
var ErrNotFound = errors.New("message not found")

const maxReportReason = 500

// Pipeline orchestrates every inbound command: validation, abuse control,
// sanitizing/filtering, persistence, then fan-out through the hub. A
// message is never broadcast before its durable write succeeds.
type Pipeline struct {
	hub    *Hub
	filter *textfilter.Filter

	ipLimiter   *abuse.Limiter
	userLimiter *abuse.Limiter
	mutes       *abuse.List

	messages repository.MessageRepo
	pins     repository.PinRepo
	audit    repository.AuditRepo

	cfg *config.Config

	now func() time.Time
}

func NewPipeline(
	hub *Hub,
	filter *textfilter.Filter,
	ipLimiter, userLimiter *abuse.Limiter,
	mutes *abuse.List,
	messages repository.MessageRepo,
	pins repository.PinRepo,
	audit repository.AuditRepo,
	cfg *config.Config,
) *Pipeline {
	return &Pipeline{
		hub:         hub,
		filter:      filter,
		ipLimiter:   ipLimiter,
		userLimiter: userLimiter,
		mutes:       mutes,
		messages:    messages,
		pins:        pins,
		audit:       audit,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Connect runs the join sequence for a freshly upgraded session: resolve
// the room, join it, deliver the snapshot (hello, pins, history in
// chronological order), audit the join and announce presence.
func (p *Pipeline) Connect(ctx context.Context, s *Session, roomHint string, lockHint bool) error {
	roomID, err := p.hub.ResolveRoom(ctx, roomHint, lockHint)
	if err != nil {
		return err
	}

	_, info, count := p.hub.Join(roomID, s)

	s.TrySend(encodeEvent(EventHello, helloData{
		RoomID:   roomID,
		AnonName: s.Name(),
		UserID:   s.UserID,
		Topic:    info.Topic,
		Capacity: info.Capacity,
		Locked:   info.Locked,
		Owner:    info.Owner,
	}))

	pinned, err := p.pins.ListRecent(ctx, roomID, p.cfg.PinLimit)
	if err != nil {
		log.Printf("[PIPELINE] Pin snapshot failed for room %s: %v", roomID, err)
	}
	ids := make([]string, 0, len(pinned))
	for _, id := range pinned {
		ids = append(ids, id.String())
	}
	s.TrySend(encodeEvent(EventPins, pinsData{IDs: ids}))

	history, err := p.messages.ListRecent(ctx, roomID, p.cfg.HistoryLimit)
	if err != nil {
		log.Printf("[PIPELINE] History snapshot failed for room %s: %v", roomID, err)
	}
	// The store returns newest first; history is delivered chronological.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	if history == nil {
		history = []*models.Message{}
	}
	s.TrySend(encodeEvent(EventHistory, history))

	p.recordAudit(ctx, "join", roomID, s.UserID, s.Name(), s.IP, s.UA, s.Geo)
	p.hub.Broadcast(roomID, encodeEvent(EventPresence, presenceData{Type: "join", Count: count}))
	return nil
}

// Disconnect is the unconditional cleanup obligation: membership removal,
// presence update and the leave audit run whether or not the client said
// goodbye.
func (p *Pipeline) Disconnect(ctx context.Context, s *Session) {
	count, ok := p.hub.Leave(s)
	if !ok {
		return
	}
	p.hub.Broadcast(s.RoomID, encodeEvent(EventPresence, presenceData{Type: "leave", Count: count}))
	p.recordAudit(ctx, "leave", s.RoomID, s.UserID, "", s.IP, "", "")
}

func (p *Pipeline) SetNick(s *Session, raw string) {
	name := p.filter.Strip(raw, models.MaxNickLen)
	if name == "" {
		return
	}
	s.nick = name
}

// UpdateRoom applies owner-only room settings. Non-owner attempts are
// silently dropped.
func (p *Pipeline) UpdateRoom(ctx context.Context, s *Session, topic string, capacity int, locked bool) {
	info, ok := p.hub.UpdateSettings(ctx, s.RoomID, s.UserID, topic, capacity, locked)
	if !ok {
		return
	}
	p.hub.Broadcast(s.RoomID, encodeEvent(EventRoomUpdate, roomUpdateData{
		Topic:    info.Topic,
		Capacity: info.Capacity,
		Locked:   info.Locked,
	}))
}

// Submit runs the full ingestion pipeline for a new message.
func (p *Pipeline) Submit(ctx context.Context, s *Session, text string, files []models.Attachment, replyTo *models.ReplyRef) {
	if p.mutes.Check(s.UserID) {
		s.TrySend(errorEvent("You are muted."))
		return
	}

	// Both buckets are consulted even though the first failure rejects;
	// the IP token stays spent when the user bucket says no, which
	// penalizes retry storms.
	if !p.ipLimiter.Allow(s.IP) {
		s.TrySend(errorEvent("Slow down (IP)."))
		return
	}
	if !p.userLimiter.Allow(s.UserID) {
		s.TrySend(errorEvent("Slow down (user)."))
		return
	}

	clean, err := p.filter.Clean(text, models.MaxTextLen)
	if errors.Is(err, textfilter.ErrBlocked) {
		s.TrySend(errorEvent("Message blocked."))
		return
	}

	if len(files) > models.MaxFilesPerMsg {
		files = files[:models.MaxFilesPerMsg]
	}
	if files == nil {
		files = []models.Attachment{}
	}

	if clean == "" && len(files) == 0 {
		s.TrySend(errorEvent("Empty message."))
		return
	}

	m := &models.Message{
		ID:      uuid.New(),
		RoomID:  s.RoomID,
		UserID:  s.UserID,
		Name:    s.Name(), // snapshot, not a live reference
		Text:    clean,
		Files:   files,
		ReplyTo: p.snapshotReply(replyTo),
		Ts:      p.now(),
	}

	// Persist before broadcast; a failed durable write must never reach
	// the room.
	if err := p.messages.Insert(ctx, m); err != nil {
		s.TrySend(errorEvent("Message could not be saved."))
		return
	}
	p.hub.Broadcast(s.RoomID, encodeEvent(EventMsg, m))
}

// snapshotReply bounds and sanitizes the client-provided reply snapshot.
// It stays an embedded copy of the original message's fields; deleting or
// editing the original later must not touch it.
func (p *Pipeline) snapshotReply(ref *models.ReplyRef) *models.ReplyRef {
	if ref == nil {
		return nil
	}
	return &models.ReplyRef{
		ID:   ref.ID,
		Name: p.filter.Strip(ref.Name, models.MaxNickLen),
		Text: p.filter.Strip(ref.Text, models.MaxReplyExcerpt),
	}
}

// Edit rewrites a message's text. Author-only; the edit is rejected
// outright in block mode, leaving the original text unchanged.
func (p *Pipeline) Edit(ctx context.Context, s *Session, messageID uuid.UUID, text string) {
	m, err := p.messages.GetByID(ctx, messageID)
	if err != nil || m.Deleted {
		return
	}
	if m.UserID != s.UserID {
		return
	}

	clean, err := p.filter.Clean(text, models.MaxTextLen)
	if errors.Is(err, textfilter.ErrBlocked) {
		s.TrySend(errorEvent("Edit blocked."))
		return
	}

	ts := p.now()
	if err := p.messages.UpdateText(ctx, messageID, clean, ts); err != nil {
		s.TrySend(errorEvent("Edit could not be saved."))
		return
	}
	p.hub.Broadcast(m.RoomID, encodeEvent(EventEdited, editedData{
		MessageID: messageID.String(),
		Text:      clean,
		EditedTs:  ts.UnixMilli(),
	}))
}

// Delete soft-deletes a message. Author-only, silent otherwise. Deleted
// messages stay in the store but vanish from history and pin targets.
func (p *Pipeline) Delete(ctx context.Context, s *Session, messageID uuid.UUID) {
	m, err := p.messages.GetByID(ctx, messageID)
	if err != nil {
		return
	}
	if m.UserID != s.UserID {
		return
	}
	if err := p.messages.MarkDeleted(ctx, messageID); err != nil {
		return
	}
	p.hub.Broadcast(m.RoomID, encodeEvent(EventDeleted, messageRefData{MessageID: messageID.String()}))
}

// Pin is owner-only and requires an existing, non-deleted target. Pinning
// an already-pinned message refreshes its pin timestamp.
func (p *Pipeline) Pin(ctx context.Context, s *Session, messageID uuid.UUID) {
	if !p.hub.IsOwner(s.RoomID, s.UserID) {
		return
	}
	m, err := p.messages.GetByID(ctx, messageID)
	if err != nil || m.Deleted {
		return
	}
	if err := p.pins.Add(ctx, m.RoomID, messageID, p.now()); err != nil {
		return
	}
	p.hub.Broadcast(m.RoomID, encodeEvent(EventPinned, messageRefData{MessageID: messageID.String()}))
}

func (p *Pipeline) Unpin(ctx context.Context, s *Session, messageID uuid.UUID) {
	if !p.hub.IsOwner(s.RoomID, s.UserID) {
		return
	}
	if err := p.pins.Remove(ctx, messageID); err != nil {
		return
	}
	p.hub.Broadcast(s.RoomID, encodeEvent(EventUnpinned, messageRefData{MessageID: messageID.String()}))
}

// Typing rebroadcasts a transient signal to everyone else in the room.
// There is no stop event; clients expire the indicator themselves.
func (p *Pipeline) Typing(s *Session) {
	p.hub.BroadcastOthers(s.RoomID, s, encodeEvent(EventTyping, typingData{
		Name:   s.Name(),
		UserID: s.UserID,
	}))
}

// Report acknowledges unconditionally and writes an audit row. It never
// mutates message state.
func (p *Pipeline) Report(ctx context.Context, s *Session, messageID, reason string) {
	if runes := []rune(reason); len(runes) > maxReportReason {
		reason = string(runes[:maxReportReason])
	}
	p.recordAudit(ctx, "report", s.RoomID, s.UserID, "", s.IP, "message="+messageID+" reason="+reason, "")
	s.TrySend(errorEvent("Report submitted. Thanks."))
}

// ForceDelete is the admin variant of Delete: elevated authorization
// replaces the author check.
func (p *Pipeline) ForceDelete(ctx context.Context, roomID string, messageID uuid.UUID) error {
	if err := p.messages.MarkDeleted(ctx, messageID); err != nil {
		return err
	}
	p.hub.Broadcast(roomID, encodeEvent(EventDeleted, messageRefData{MessageID: messageID.String()}))
	return nil
}

// ForcePin pins on behalf of an administrator. The target must still exist
// and be non-deleted.
func (p *Pipeline) ForcePin(ctx context.Context, roomID string, messageID uuid.UUID) error {
	m, err := p.messages.GetByID(ctx, messageID)
	if err != nil || m.Deleted {
		return ErrNotFound
	}
	if err := p.pins.Add(ctx, m.RoomID, messageID, p.now()); err != nil {
		return err
	}
	p.hub.Broadcast(m.RoomID, encodeEvent(EventPinned, messageRefData{MessageID: messageID.String()}))
	return nil
}

func (p *Pipeline) ForceUnpin(ctx context.Context, roomID string, messageID uuid.UUID) error {
	if err := p.pins.Remove(ctx, messageID); err != nil {
		return err
	}
	p.hub.Broadcast(roomID, encodeEvent(EventUnpinned, messageRefData{MessageID: messageID.String()}))
	return nil
}

func (p *Pipeline) recordAudit(ctx context.Context, event, roomID, userID, name, ip, ua, geo string) {
	ev := &models.AuditEvent{
		Ts:     p.now(),
		Event:  event,
		RoomID: roomID,
		UserID: userID,
		Name:   name,
		IP:     p.auditIP(ip),
		UA:     ua,
		Geo:    geo,
	}
	if err := p.audit.Append(ctx, ev); err != nil {
		log.Printf("[PIPELINE] Audit append failed for %q: %v", event, err)
	}
}

func (p *Pipeline) auditIP(ip string) string {
	if p.cfg.SaveRawIP {
		return ip
	}
	sum := sha256.Sum256([]byte(ip + p.cfg.IPSalt))
	return hex.EncodeToString(sum[:])
}
