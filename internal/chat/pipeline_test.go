package chat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"anonchat/internal/abuse"
	"anonchat/internal/config"
	"anonchat/internal/models"
	"anonchat/internal/textfilter"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineEnv struct {
	hub      *Hub
	pipe     *Pipeline
	rooms    *memRoomRepo
	messages *memMessageRepo
	pins     *memPinRepo
	audit    *memAuditRepo

	ipLimiter   *abuse.Limiter
	userLimiter *abuse.Limiter
	mutes       *abuse.List
}

type envOpts struct {
	mode       textfilter.Mode
	ipTokens   int
	userTokens int
}

func newPipelineEnv(t *testing.T, opts envOpts) *pipelineEnv {
	t.Helper()
	if opts.mode == "" {
		opts.mode = textfilter.ModeSoft
	}
	if opts.ipTokens == 0 {
		opts.ipTokens = 100
	}
	if opts.userTokens == 0 {
		opts.userTokens = 100
	}

	env := &pipelineEnv{
		rooms:       newMemRoomRepo(),
		messages:    newMemMessageRepo(),
		pins:        newMemPinRepo(),
		audit:       newMemAuditRepo(),
		ipLimiter:   abuse.NewLimiter(opts.ipTokens, time.Minute),
		userLimiter: abuse.NewLimiter(opts.userTokens, time.Minute),
		mutes:       abuse.NewList(),
	}
	env.hub = NewHub(env.rooms)
	env.pipe = NewPipeline(
		env.hub,
		textfilter.New(opts.mode),
		env.ipLimiter,
		env.userLimiter,
		env.mutes,
		env.messages,
		env.pins,
		env.audit,
		&config.Config{
			HistoryLimit: 120,
			PinLimit:     25,
			IPSalt:       "pepper",
		},
	)
	return env
}

// join connects a session to the shared test room and drains the snapshot
// plus any presence noise from every session passed in extra.
func (env *pipelineEnv) join(t *testing.T, userID, ip string, extra ...*Session) *Session {
	t.Helper()
	s := NewSession(env.hub, env.pipe, nil, userID, ip, "test-agent", "")
	require.NoError(t, env.pipe.Connect(context.Background(), s, "TESTROOM", false))
	drainEvents(s)
	for _, e := range extra {
		drainEvents(e)
	}
	return s
}

type rawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func recvEvent(t *testing.T, s *Session) rawEvent {
	t.Helper()
	select {
	case raw := <-s.Send:
		var ev rawEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	default:
		t.Fatal("expected a queued event, send buffer is empty")
		return rawEvent{}
	}
}

func expectEvent(t *testing.T, s *Session, eventType string) json.RawMessage {
	t.Helper()
	ev := recvEvent(t, s)
	require.Equal(t, eventType, ev.Type)
	return ev.Data
}

func expectError(t *testing.T, s *Session, text string) {
	t.Helper()
	data := expectEvent(t, s, EventError)
	var msg string
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, text, msg)
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case raw := <-s.Send:
		t.Fatalf("expected no event, got %s", raw)
	default:
	}
}

func drainEvents(s *Session) {
	for {
		select {
		case <-s.Send:
		default:
			return
		}
	}
}

func TestConnectDeliversSnapshot(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	ctx := context.Background()

	// Seed durable state the way a previous population would have left it.
	roomID, err := env.hub.ResolveRoom(ctx, "TESTROOM", false)
	require.NoError(t, err)

	older := &models.Message{ID: uuid.New(), RoomID: roomID, UserID: "u1", Name: "anon-u1", Text: "first", Ts: time.Now().Add(-3 * time.Minute)}
	gone := &models.Message{ID: uuid.New(), RoomID: roomID, UserID: "u1", Name: "anon-u1", Text: "gone", Ts: time.Now().Add(-2 * time.Minute)}
	newer := &models.Message{ID: uuid.New(), RoomID: roomID, UserID: "u2", Name: "anon-u2", Text: "second", Ts: time.Now().Add(-time.Minute)}
	for _, m := range []*models.Message{older, gone, newer} {
		require.NoError(t, env.messages.Insert(ctx, m))
	}
	require.NoError(t, env.messages.MarkDeleted(ctx, gone.ID))
	require.NoError(t, env.pins.Add(ctx, roomID, older.ID, time.Now()))

	s := NewSession(env.hub, env.pipe, nil, "visitor001", "2.2.2.2", "test-agent", "")
	require.NoError(t, env.pipe.Connect(ctx, s, "TESTROOM", false))

	var hello helloData
	require.NoError(t, json.Unmarshal(expectEvent(t, s, EventHello), &hello))
	assert.Equal(t, roomID, hello.RoomID)
	assert.Equal(t, "anon-visit", hello.AnonName)
	assert.Equal(t, "visitor001", hello.UserID)
	assert.Equal(t, "visitor001", hello.Owner, "first joiner owns the room")

	var pins pinsData
	require.NoError(t, json.Unmarshal(expectEvent(t, s, EventPins), &pins))
	assert.Equal(t, []string{older.ID.String()}, pins.IDs)

	var history []*models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, s, EventHistory), &history))
	require.Len(t, history, 2, "deleted messages are dropped from history")
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "second", history[1].Text)

	var presence presenceData
	require.NoError(t, json.Unmarshal(expectEvent(t, s, EventPresence), &presence))
	assert.Equal(t, "join", presence.Type)
	assert.Equal(t, 1, presence.Count)

	joins := env.audit.byEvent("join")
	require.Len(t, joins, 1)
	assert.Equal(t, "visitor001", joins[0].UserID)
	assert.NotEqual(t, "2.2.2.2", joins[0].IP, "raw IP must not reach the audit log by default")
	assert.Len(t, joins[0].IP, 64)
}

func TestSubmitSanitizesAndBroadcasts(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.Submit(context.Background(), alice, "<b>hello</b> room", nil, nil)

	for _, s := range []*Session{alice, bob} {
		var m models.Message
		require.NoError(t, json.Unmarshal(expectEvent(t, s, EventMsg), &m))
		assert.Equal(t, "hello room", m.Text)
		assert.Equal(t, "anon-alice", m.Name)
		assert.Equal(t, "alice00001", m.UserID)
	}

	stored, err := env.messages.ListRecent(context.Background(), alice.RoomID, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello room", stored[0].Text)
}

func TestSubmitPersistFailureNeverBroadcasts(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.messages.failInsert = true
	env.pipe.Submit(context.Background(), alice, "does not survive", nil, nil)

	expectError(t, alice, "Message could not be saved.")
	expectNoEvent(t, bob)
}

func TestSubmitRejectsEmpty(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	alice := env.join(t, "alice00001", "1.1.1.1")

	env.pipe.Submit(context.Background(), alice, "   ", nil, nil)
	expectError(t, alice, "Empty message.")

	// Markup-only input sanitizes down to nothing.
	env.pipe.Submit(context.Background(), alice, "<script>alert(1)</script>", nil, nil)
	expectError(t, alice, "Empty message.")
}

func TestSubmitAttachmentOnly(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	alice := env.join(t, "alice00001", "1.1.1.1")

	files := make([]models.Attachment, 6)
	for i := range files {
		files[i] = models.Attachment{URL: "/uploads/f.png", OriginalName: "f.png", Size: 10, Mimetype: "image/png"}
	}
	env.pipe.Submit(context.Background(), alice, "", files, nil)

	var m models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventMsg), &m))
	assert.Empty(t, m.Text)
	assert.Len(t, m.Files, models.MaxFilesPerMsg, "attachments past the cap are dropped")
}

func TestSubmitMuted(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	alice := env.join(t, "alice00001", "1.1.1.1")

	env.mutes.Add(alice.UserID, time.Hour, "admin")
	env.pipe.Submit(context.Background(), alice, "hello", nil, nil)

	expectError(t, alice, "You are muted.")
	stored, err := env.messages.ListRecent(context.Background(), alice.RoomID, 10)
	require.NoError(t, err)
	assert.Empty(t, stored, "muted users must not reach the store")
}

func TestSubmitRateLimits(t *testing.T) {
	env := newPipelineEnv(t, envOpts{ipTokens: 3, userTokens: 2})
	alice := env.join(t, "alice00001", "1.1.1.1")

	env.pipe.Submit(context.Background(), alice, "one", nil, nil)
	expectEvent(t, alice, EventMsg)
	env.pipe.Submit(context.Background(), alice, "two", nil, nil)
	expectEvent(t, alice, EventMsg)

	// User bucket runs dry first, but the IP token is spent anyway.
	env.pipe.Submit(context.Background(), alice, "three", nil, nil)
	expectError(t, alice, "Slow down (user).")
	assert.False(t, env.ipLimiter.Allow(alice.IP))

	env.pipe.Submit(context.Background(), alice, "four", nil, nil)
	expectError(t, alice, "Slow down (IP).")
}

func TestSubmitBlockMode(t *testing.T) {
	env := newPipelineEnv(t, envOpts{mode: textfilter.ModeBlock})
	alice := env.join(t, "alice00001", "1.1.1.1")

	env.pipe.Submit(context.Background(), alice, "well fuck that", nil, nil)
	expectError(t, alice, "Message blocked.")

	stored, err := env.messages.ListRecent(context.Background(), alice.RoomID, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestReplySnapshotSurvivesSourceDeletion(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	ctx := context.Background()
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.Submit(ctx, alice, "original", nil, nil)
	var original models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventMsg), &original))
	drainEvents(bob)

	env.pipe.Submit(ctx, bob, "reply", nil, &models.ReplyRef{
		ID:   original.ID.String(),
		Name: "<b>alice</b>",
		Text: strings.Repeat("long excerpt ", 40),
	})
	var reply models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventMsg), &reply))
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, "alice", reply.ReplyTo.Name, "markup is stripped from the snapshot")
	assert.LessOrEqual(t, len([]rune(reply.ReplyTo.Text)), models.MaxReplyExcerpt)

	// Deleting the original must not disturb the embedded snapshot.
	env.pipe.Delete(ctx, alice, original.ID)
	stored, err := env.messages.GetByID(ctx, reply.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReplyTo)
	assert.Equal(t, original.ID.String(), stored.ReplyTo.ID)
	assert.Equal(t, "alice", stored.ReplyTo.Name)
}

func TestEdit(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	ctx := context.Background()
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.Submit(ctx, alice, "tpyo", nil, nil)
	var m models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventMsg), &m))
	drainEvents(bob)

	t.Run("AuthorEditBroadcasts", func(t *testing.T) {
		env.pipe.Edit(ctx, alice, m.ID, "typo <i>fixed</i>")

		var edited editedData
		require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventEdited), &edited))
		assert.Equal(t, m.ID.String(), edited.MessageID)
		assert.Equal(t, "typo fixed", edited.Text)
		assert.NotZero(t, edited.EditedTs)
		drainEvents(alice)

		stored, err := env.messages.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, "typo fixed", stored.Text)
		require.NotNil(t, stored.EditedTs)
	})

	t.Run("NonAuthorSilentlyIgnored", func(t *testing.T) {
		env.pipe.Edit(ctx, bob, m.ID, "hijacked")
		expectNoEvent(t, bob)
		expectNoEvent(t, alice)

		stored, err := env.messages.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, "typo fixed", stored.Text)
	})

	t.Run("DeletedMessageIgnored", func(t *testing.T) {
		env.pipe.Delete(ctx, alice, m.ID)
		drainEvents(alice)
		drainEvents(bob)

		env.pipe.Edit(ctx, alice, m.ID, "necromancy")
		expectNoEvent(t, alice)
		expectNoEvent(t, bob)
	})
}

func TestEditBlockModeKeepsOriginal(t *testing.T) {
	env := newPipelineEnv(t, envOpts{mode: textfilter.ModeBlock})
	ctx := context.Background()
	alice := env.join(t, "alice00001", "1.1.1.1")

	env.pipe.Submit(ctx, alice, "clean text", nil, nil)
	var m models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventMsg), &m))

	env.pipe.Edit(ctx, alice, m.ID, "well fuck that")
	expectError(t, alice, "Edit blocked.")

	stored, err := env.messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "clean text", stored.Text)
	assert.Nil(t, stored.EditedTs)
}

func TestDelete(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	ctx := context.Background()
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.Submit(ctx, alice, "ephemeral", nil, nil)
	var m models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventMsg), &m))
	drainEvents(bob)

	// Non-author deletion is dropped without feedback.
	env.pipe.Delete(ctx, bob, m.ID)
	expectNoEvent(t, bob)
	expectNoEvent(t, alice)

	env.pipe.Delete(ctx, alice, m.ID)
	var ref messageRefData
	require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventDeleted), &ref))
	assert.Equal(t, m.ID.String(), ref.MessageID)

	history, err := env.messages.ListRecent(ctx, alice.RoomID, 10)
	require.NoError(t, err)
	assert.Empty(t, history, "soft-deleted messages vanish from history")

	stored, err := env.messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted, "the row itself survives as a tombstone")
}

func TestPinOwnerOnly(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	ctx := context.Background()
	alice := env.join(t, "alice00001", "1.1.1.1") // owner
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.Submit(ctx, bob, "pin me", nil, nil)
	var m models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventMsg), &m))
	drainEvents(alice)

	t.Run("NonOwnerRejected", func(t *testing.T) {
		env.pipe.Pin(ctx, bob, m.ID)
		expectNoEvent(t, bob)
		expectNoEvent(t, alice)
	})

	t.Run("OwnerPins", func(t *testing.T) {
		env.pipe.Pin(ctx, alice, m.ID)
		var ref messageRefData
		require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventPinned), &ref))
		assert.Equal(t, m.ID.String(), ref.MessageID)
		drainEvents(alice)

		ids, err := env.pins.ListRecent(ctx, alice.RoomID, 25)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{m.ID}, ids)
	})

	t.Run("RepinIsIdempotent", func(t *testing.T) {
		env.pipe.Pin(ctx, alice, m.ID)
		drainEvents(alice)
		drainEvents(bob)

		ids, err := env.pins.ListRecent(ctx, alice.RoomID, 25)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})

	t.Run("OwnerUnpins", func(t *testing.T) {
		env.pipe.Unpin(ctx, alice, m.ID)
		expectEvent(t, bob, EventUnpinned)
		drainEvents(alice)

		ids, err := env.pins.ListRecent(ctx, alice.RoomID, 25)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("DeletedTargetRejected", func(t *testing.T) {
		env.pipe.Delete(ctx, bob, m.ID)
		drainEvents(alice)
		drainEvents(bob)

		env.pipe.Pin(ctx, alice, m.ID)
		expectNoEvent(t, alice)
		expectNoEvent(t, bob)
	})
}

func TestTypingExcludesSender(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.Typing(alice)

	var typing typingData
	require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventTyping), &typing))
	assert.Equal(t, "anon-alice", typing.Name)
	assert.Equal(t, "alice00001", typing.UserID)
	expectNoEvent(t, alice)
}

func TestSetNick(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.SetNick(alice, "<b>night owl</b>")
	env.pipe.Submit(context.Background(), alice, "hello", nil, nil)

	var m models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, bob, EventMsg), &m))
	assert.Equal(t, "night owl", m.Name)

	// A nick that strips to nothing leaves the previous name in place.
	env.pipe.SetNick(alice, "<img src=x>")
	assert.Equal(t, "night owl", alice.Name())
}

func TestUpdateRoom(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	ctx := context.Background()
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.UpdateRoom(ctx, bob, "not yours", 10, true)
	expectNoEvent(t, alice)
	expectNoEvent(t, bob)

	env.pipe.UpdateRoom(ctx, alice, "lounge", 500, true)
	for _, s := range []*Session{alice, bob} {
		var update roomUpdateData
		require.NoError(t, json.Unmarshal(expectEvent(t, s, EventRoomUpdate), &update))
		assert.Equal(t, "lounge", update.Topic)
		assert.Equal(t, models.RoomCapMax, update.Capacity)
		assert.True(t, update.Locked)
	}
}

func TestDisconnectAnnouncesAndAudits(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	ctx := context.Background()
	alice := env.join(t, "alice00001", "1.1.1.1")
	bob := env.join(t, "bob0000001", "1.1.1.2", alice)

	env.pipe.Disconnect(ctx, bob)

	var presence presenceData
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventPresence), &presence))
	assert.Equal(t, "leave", presence.Type)
	assert.Equal(t, 1, presence.Count)

	leaves := env.audit.byEvent("leave")
	require.Len(t, leaves, 1)
	assert.Equal(t, bob.UserID, leaves[0].UserID)

	// A second disconnect for the same session is a no-op.
	env.pipe.Disconnect(ctx, bob)
	expectNoEvent(t, alice)
	assert.Len(t, env.audit.byEvent("leave"), 1)
}

func TestReport(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	alice := env.join(t, "alice00001", "1.1.1.1")

	target := uuid.NewString()
	env.pipe.Report(context.Background(), alice, target, strings.Repeat("r", 600))
	expectError(t, alice, "Report submitted. Thanks.")

	reports := env.audit.byEvent("report")
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].UA, "message="+target)
	assert.LessOrEqual(t, len(reports[0].UA), len("message="+target+" reason=")+maxReportReason)
}

func TestForceOps(t *testing.T) {
	env := newPipelineEnv(t, envOpts{})
	ctx := context.Background()
	alice := env.join(t, "alice00001", "1.1.1.1")

	env.pipe.Submit(ctx, alice, "moderate me", nil, nil)
	var m models.Message
	require.NoError(t, json.Unmarshal(expectEvent(t, alice, EventMsg), &m))

	t.Run("ForcePin", func(t *testing.T) {
		require.NoError(t, env.pipe.ForcePin(ctx, alice.RoomID, m.ID))
		expectEvent(t, alice, EventPinned)
	})

	t.Run("ForceUnpin", func(t *testing.T) {
		require.NoError(t, env.pipe.ForceUnpin(ctx, alice.RoomID, m.ID))
		expectEvent(t, alice, EventUnpinned)
	})

	t.Run("ForceDelete", func(t *testing.T) {
		require.NoError(t, env.pipe.ForceDelete(ctx, alice.RoomID, m.ID))
		expectEvent(t, alice, EventDeleted)
	})

	t.Run("ForcePinDeletedTarget", func(t *testing.T) {
		assert.ErrorIs(t, env.pipe.ForcePin(ctx, alice.RoomID, m.ID), ErrNotFound)
	})

	t.Run("ForcePinUnknownTarget", func(t *testing.T) {
		assert.ErrorIs(t, env.pipe.ForcePin(ctx, alice.RoomID, uuid.New()), ErrNotFound)
	})
}
