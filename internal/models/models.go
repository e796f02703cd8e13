package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// RoomCapDefault is the advisory member capacity a room starts with.
	RoomCapDefault = 50

	RoomCapMin = 2
	RoomCapMax = 200

	MaxTopicLen    = 140
	MaxTextLen     = 2000
	MaxNickLen     = 24
	MaxFilesPerMsg = 4

	// MaxReplyExcerpt bounds the text snapshot carried by a reply reference.
	MaxReplyExcerpt = 140
)

type Room struct {
	ID        string    `json:"roomId"`
	Topic     string    `json:"topic"`
	Capacity  int       `json:"capacity"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attachment describes an uploaded file. The pipeline treats it as opaque
// metadata produced by the upload endpoint.
type Attachment struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Mimetype     string `json:"mimetype"`
}

// ReplyRef is a point-in-time snapshot of the message being replied to.
// It is an embedded copy, never a live reference: later edits, deletes or
// renames of the original must not change it.
type ReplyRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

type Message struct {
	ID       uuid.UUID    `json:"id"`
	RoomID   string       `json:"roomId"`
	UserID   string       `json:"userId"`
	Name     string       `json:"name"` // author display name at send time
	Text     string       `json:"text"`
	Files    []Attachment `json:"files"`
	ReplyTo  *ReplyRef    `json:"replyTo,omitempty"`
	Ts       time.Time    `json:"ts"`
	Deleted  bool         `json:"-"`
	EditedTs *time.Time   `json:"editedTs,omitempty"`
}

// AuditEvent is an append-only moderation/audit record. IP is raw or a
// salted hash depending on configuration.
type AuditEvent struct {
	Ts     time.Time
	Event  string
	RoomID string
	UserID string
	Name   string
	IP     string
	UA     string
	Geo    string
}
