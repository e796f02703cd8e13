package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"anonchat/internal/abuse"
	"anonchat/internal/auth"
	"anonchat/internal/chat"
	"anonchat/internal/repository"

	"github.com/google/uuid"
)

const adminRoomList = 200

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ADMIN] Failed to encode response: %v", err)
	}
}

func dbCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}

// LoginHandler exchanges the shared admin key for a bearer token.
func LoginHandler(adminKey string, secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if subtle.ConstantTimeCompare([]byte(payload.Key), []byte(adminKey)) != 1 {
			log.Printf("[ADMIN] Failed login attempt from %s", getIP(r))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		token, err := auth.GenerateAdminToken(secret)
		if err != nil {
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "token": token})
	}
}

type listEntry struct {
	Key    string    `json:"key"`
	Until  time.Time `json:"until"`
	Reason string    `json:"reason"`
}

func listEntries(l *abuse.List) []listEntry {
	snapshot := l.Snapshot()
	entries := make([]listEntry, 0, len(snapshot))
	for key, e := range snapshot {
		entries = append(entries, listEntry{Key: key, Until: e.Until, Reason: e.Reason})
	}
	return entries
}

// StateHandler reports recent rooms with live member counts plus the
// current ban and mute overlays.
func StateHandler(rooms repository.RoomRepo, hub *chat.Hub, bans, mutes *abuse.List) http.HandlerFunc {
	type roomState struct {
		RoomID   string `json:"roomId"`
		Topic    string `json:"topic"`
		Capacity int    `json:"capacity"`
		Locked   bool   `json:"locked"`
		Members  int    `json:"members"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := dbCtx(r)
		defer cancel()

		recent, err := rooms.ListRecent(ctx, adminRoomList)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		counts := hub.MemberCounts()
		out := make([]roomState, 0, len(recent))
		for _, room := range recent {
			out = append(out, roomState{
				RoomID:   room.ID,
				Topic:    room.Topic,
				Capacity: room.Capacity,
				Locked:   room.Locked,
				Members:  counts[room.ID],
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ok":    true,
			"rooms": out,
			"bans":  listEntries(bans),
			"mutes": listEntries(mutes),
		})
	}
}

// MessagesHandler lists recent non-deleted messages for one room.
func MessagesHandler(messages repository.MessageRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("roomId")
		if roomID == "" {
			http.Error(w, "roomId required", http.StatusBadRequest)
			return
		}

		ctx, cancel := dbCtx(r)
		defer cancel()

		items, err := messages.ListRecent(ctx, roomID, adminRoomList)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
	}
}

type moderationPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

func decodeModeration(r *http.Request) (string, uuid.UUID, bool) {
	var payload moderationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return "", uuid.Nil, false
	}
	if payload.RoomID == "" {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return "", uuid.Nil, false
	}
	return payload.RoomID, id, true
}

// DeleteHandler force-deletes a message with elevated authorization.
func DeleteHandler(pipeline *chat.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, id, ok := decodeModeration(r)
		if !ok {
			http.Error(w, "roomId and messageId required", http.StatusBadRequest)
			return
		}

		ctx, cancel := dbCtx(r)
		defer cancel()

		if err := pipeline.ForceDelete(ctx, roomID, id); err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func PinHandler(pipeline *chat.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, id, ok := decodeModeration(r)
		if !ok {
			http.Error(w, "roomId and messageId required", http.StatusBadRequest)
			return
		}

		ctx, cancel := dbCtx(r)
		defer cancel()

		err := pipeline.ForcePin(ctx, roomID, id)
		if errors.Is(err, chat.ErrNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func UnpinHandler(pipeline *chat.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, id, ok := decodeModeration(r)
		if !ok {
			http.Error(w, "roomId and messageId required", http.StatusBadRequest)
			return
		}

		ctx, cancel := dbCtx(r)
		defer cancel()

		if err := pipeline.ForceUnpin(ctx, roomID, id); err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// BanHandler adds an expiring IP ban and forcibly disconnects every live
// session on that IP.
func BanHandler(bans *abuse.List, hub *chat.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			IP      string `json:"ip"`
			Minutes int    `json:"minutes"`
			Reason  string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.IP == "" {
			http.Error(w, "ip required", http.StatusBadRequest)
			return
		}
		if payload.Minutes <= 0 {
			payload.Minutes = 60
		}
		if payload.Reason == "" {
			payload.Reason = "ban"
		}

		bans.Add(payload.IP, time.Duration(payload.Minutes)*time.Minute, payload.Reason)
		kicked := hub.DisconnectIP(payload.IP)
		log.Printf("[ADMIN] Banned IP %s for %dm (%d sessions disconnected)", payload.IP, payload.Minutes, kicked)

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "disconnected": kicked})
	}
}

func UnbanHandler(bans *abuse.List) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			IP string `json:"ip"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.IP == "" {
			http.Error(w, "ip required", http.StatusBadRequest)
			return
		}
		bans.Remove(payload.IP)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// MuteHandler adds an expiring mute keyed by an abuse key, typically a
// userId.
func MuteHandler(mutes *abuse.List) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Key     string `json:"key"`
			Minutes int    `json:"minutes"`
			Reason  string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Key == "" {
			http.Error(w, "key required", http.StatusBadRequest)
			return
		}
		if payload.Minutes <= 0 {
			payload.Minutes = 15
		}
		if payload.Reason == "" {
			payload.Reason = "mute"
		}

		mutes.Add(payload.Key, time.Duration(payload.Minutes)*time.Minute, payload.Reason)
		log.Printf("[ADMIN] Muted key %s for %dm", payload.Key, payload.Minutes)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func UnmuteHandler(mutes *abuse.List) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Key == "" {
			http.Error(w, "key required", http.StatusBadRequest)
			return
		}
		mutes.Remove(payload.Key)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
