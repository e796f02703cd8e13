package chat

import (
	"encoding/json"
	"log"

	"anonchat/internal/models"
)

// Command is the client->server envelope: {"type": "...", "data": {...}}.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type setNickPayload struct {
	Nick string `json:"nick"`
}

type setRoomPayload struct {
	Topic    string `json:"topic"`
	Capacity int    `json:"capacity"`
	Locked   bool   `json:"locked"`
}

type msgPayload struct {
	Text    string              `json:"text"`
	Files   []models.Attachment `json:"files"`
	ReplyTo *models.ReplyRef    `json:"replyTo"`
}

type editPayload struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

type messageRefPayload struct {
	MessageID string `json:"messageId"`
}

type reportPayload struct {
	MessageID string `json:"messageId"`
	Reason    string `json:"reason"`
}

// Event is the server->client envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	EventHello      = "hello"
	EventPins       = "pins"
	EventHistory    = "history"
	EventMsg        = "msg"
	EventEdited     = "edited"
	EventDeleted    = "deleted"
	EventPinned     = "pinned"
	EventUnpinned   = "unpinned"
	EventRoomUpdate = "roomUpdate"
	EventPresence   = "presence"
	EventTyping     = "typing"
	EventError      = "errorMsg"
)

type helloData struct {
	RoomID   string `json:"roomId"`
	AnonName string `json:"anonName"`
	UserID   string `json:"userId"`
	Topic    string `json:"topic"`
	Capacity int    `json:"capacity"`
	Locked   bool   `json:"locked"`
	Owner    string `json:"owner"`
}

type pinsData struct {
	IDs []string `json:"ids"`
}

type editedData struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	EditedTs  int64  `json:"editedTs"`
}

type messageRefData struct {
	MessageID string `json:"messageId"`
}

type roomUpdateData struct {
	Topic    string `json:"topic"`
	Capacity int    `json:"capacity"`
	Locked   bool   `json:"locked"`
}

type presenceData struct {
	Type  string `json:"type"` // "join" or "leave"
	Count int    `json:"count"`
}

type typingData struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

func encodeEvent(eventType string, data any) []byte {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		log.Printf("[HUB] Failed to marshal %s event: %v", eventType, err)
		return nil
	}
	return payload
}

func errorEvent(text string) []byte {
	return encodeEvent(EventError, text)
}
