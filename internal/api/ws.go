package api

import (
	"context"
	"log"
	"net/http"

	"anonchat/internal/abuse"
	"anonchat/internal/chat"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS performs the session handshake: ban check, identity resolution,
// upgrade, then the pipeline's join sequence. Query parameters:
// persistedId (client-kept identity token), room (join hint) and lock
// (lock a freshly created room).
func ServeWS(hub *chat.Hub, pipeline *chat.Pipeline, bans *abuse.List) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getIP(r)

		// Bans are enforced once, at connection time. A ban applied
		// mid-session is enforced by forced disconnection instead.
		if bans.Check(ip) {
			http.Error(w, "Banned", http.StatusForbidden)
			return
		}

		userID := r.URL.Query().Get("persistedId")
		if len(userID) >= 10 {
			if len(userID) > 32 {
				userID = userID[:32]
			}
		} else {
			userID = chat.NewUserID()
		}

		roomHint := r.URL.Query().Get("room")
		lockHint := r.URL.Query().Get("lock") == "1"

		ua := r.UserAgent()
		// Geo is produced upstream (reverse proxy / edge); opaque here.
		geo := r.Header.Get("X-Geo")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] Upgrade error: %v", err)
			return
		}

		s := chat.NewSession(hub, pipeline, conn, userID, ip, ua, geo)
		go s.WritePump()

		if err := pipeline.Connect(context.Background(), s, roomHint, lockHint); err != nil {
			log.Printf("[WS] Join failed for session %s: %v", s.ID, err)
			s.Close()
			return
		}

		go s.ReadPump()
	}
}
