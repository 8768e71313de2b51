package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-coordinator/internal/models"
)

type harness struct {
	t      *testing.T
	ctx    context.Context
	d      *Dispatcher
	router *recordingRouter
	ack    int64
}

func newHarness(t *testing.T, audit Auditor) *harness {
	t.Helper()
	router := newRecordingRouter()
	d := New(logs.GetLoggerFromLevel(slog.LevelDebug), router, audit, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-d.Done()
	})
	return &harness{t: t, ctx: ctx, d: d, router: router}
}

func (h *harness) frame(event string, withAck bool, args ...any) models.Frame {
	h.t.Helper()
	frame := models.Frame{Event: event}
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		require.NoError(h.t, err)
		frame.Args = append(frame.Args, raw)
	}
	if withAck {
		h.ack++
		id := h.ack
		frame.Ack = &id
	}
	return frame
}

// call sends an ack-bearing event and waits for it to be processed.
func (h *harness) call(connID, event string, args ...any) {
	h.d.Deliver(connID, h.frame(event, true, args...))
	h.sync()
}

// fire sends an event without an ack and waits for it to be processed.
func (h *harness) fire(connID, event string, args ...any) {
	h.d.Deliver(connID, h.frame(event, false, args...))
	h.sync()
}

func (h *harness) sync() {
	require.NoError(h.t, h.d.Query(h.ctx, func() {}))
}

func (h *harness) requireReply(connID, expected string) {
	h.t.Helper()
	r, ok := h.router.lastReply(connID)
	require.True(h.t, ok, "no reply for %s", connID)
	require.Equal(h.t, h.ack, r.Ack)
	require.JSONEq(h.t, expected, string(r.Args))
}

func (h *harness) enterLobby(connID, name string) {
	h.t.Helper()
	h.router.connect(connID)
	h.call(connID, EventJoinLobby, name)
	h.requireReply(connID, `[true]`)
}

func (h *harness) setupLounge() {
	h.t.Helper()
	h.enterLobby("a", "alice")
	h.enterLobby("b", "bob")
	h.call("a", EventCreateRoom, "lounge")
	h.requireReply("a", `[true]`)
	h.call("a", EventJoinRoom, "lounge")
	h.requireReply("a", `[true]`)
	h.call("b", EventJoinRoom, "lounge")
	h.requireReply("b", `[true]`)
	h.router.reset()
}

func TestEndToEndLoungeScenario(t *testing.T) {
	h := newHarness(t, nil)

	h.enterLobby("a", "alice")
	h.call("a", EventCreateRoom, "lounge")
	h.requireReply("a", `[true]`)
	h.call("a", EventJoinRoom, "lounge")
	h.requireReply("a", `[true]`)
	h.fire("a", EventChatMessage, map[string]string{"room": "lounge", "text": "hi", "id": "1"})

	h.enterLobby("b", "bob")
	h.call("b", EventJoinRoom, "lounge")
	h.requireReply("b", `[true]`)

	joined := h.router.events("b", EventJoinedRoom)
	require.Len(t, joined, 1)
	assert.JSONEq(t, `["lounge",["alice","bob"]]`, string(joined[0]))

	history := h.router.events("b", EventRoomHistory)
	require.Len(t, history, 1)
	var args [][]models.Message
	require.NoError(t, json.Unmarshal(history[0], &args))
	require.Len(t, args[0], 1)
	assert.Equal(t, "1", args[0][0].ID)
	assert.Equal(t, "alice", args[0][0].User)
	assert.Equal(t, "hi", args[0][0].Text)

	system := h.router.events("a", EventSystemMessage)
	require.NotEmpty(t, system)
	var notice []models.SystemMessage
	require.NoError(t, json.Unmarshal(system[len(system)-1], &notice))
	assert.Equal(t, models.SystemAuthor, notice[0].User)
	assert.Equal(t, "bob has joined the room.", notice[0].Text)

	users := h.router.events("a", EventRoomUsers)
	require.NotEmpty(t, users)
	assert.JSONEq(t, `[["alice","bob"]]`, string(users[len(users)-1]))
	assert.Empty(t, h.router.events("b", EventSystemMessage))
}

func TestCheckUsername(t *testing.T) {
	h := newHarness(t, nil)
	h.router.connect("b")

	h.call("b", EventCheckUsername, "alice")
	h.requireReply("b", `[false]`)

	h.enterLobby("a", "alice")

	h.call("b", EventCheckUsername, "  alice ")
	h.requireReply("b", `[true]`)
}

func TestJoinLobbyRejectsTakenAndEmptyNames(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLobby("a", "alice")
	h.router.connect("b")

	h.call("b", EventJoinLobby, "alice")
	h.requireReply("b", `[false,"Username is already taken."]`)

	h.call("b", EventJoinLobby, "   ")
	h.requireReply("b", `[false,"Username cannot be empty."]`)

	h.call("a", EventJoinLobby, "alice2")
	h.requireReply("a", `[false,"You have already joined the lobby."]`)
}

func TestJoinLobbyAcceptsObjectForm(t *testing.T) {
	h := newHarness(t, nil)
	h.router.connect("c")

	h.call("c", EventJoinLobby, map[string]string{"username": "carol"})
	h.requireReply("c", `[true]`)

	lists := h.router.events("c", EventRoomList)
	require.Len(t, lists, 1)
	assert.JSONEq(t, `[[]]`, string(lists[0]))
}

func TestJoinLobbyWithoutAckBroadcastsRoomList(t *testing.T) {
	h := newHarness(t, nil)
	h.router.connect("a", "x")

	h.fire("a", EventJoinLobby, "alice")

	assert.Equal(t, 0, h.router.replyCount("a"))
	assert.Len(t, h.router.events("x", EventRoomList), 1)
}

func TestUnregisteredConnectionChangesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.router.connect("ghost")

	h.call("ghost", EventCreateRoom, "lounge")
	h.requireReply("ghost", `[false,"Join the lobby first."]`)
	h.call("ghost", EventJoinRoom, "lounge")
	h.requireReply("ghost", `[false,"Join the lobby first."]`)
	h.call("ghost", EventDeleteRoom, "lounge")
	h.requireReply("ghost", `[false,"Join the lobby first."]`)
	h.fire("ghost", EventChatMessage, map[string]string{"room": "lounge", "text": "hi", "id": "1"})
	h.fire("ghost", EventTyping, "lounge")

	rooms, err := h.d.ListRooms(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.Empty(t, h.router.eventNames("ghost"))
}

func TestMalformedPayloadsAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLobby("a", "alice")
	h.router.reset()

	h.call("a", EventJoinRoom, 42)
	h.call("a", EventCreateRoom)
	h.fire("a", EventChatMessage, "not an object")
	h.fire("a", EventChatMessage, map[string]string{"room": "lounge"})
	h.call("a", "no such event", "x")

	assert.Equal(t, 0, h.router.replyCount("a"))
	assert.Empty(t, h.router.eventNames("a"))
}

func TestCreateRoomDuplicateIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLobby("a", "alice")

	h.call("a", EventCreateRoom, "general")
	h.requireReply("a", `[true]`)
	h.call("a", EventCreateRoom, "general")
	h.requireReply("a", `[false,"Room name already exists."]`)
	h.call("a", EventCreateRoom, "  ")
	h.requireReply("a", `[false,"Room name cannot be empty."]`)

	rooms, err := h.d.ListRooms(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.RoomSummary{{Name: "general", Owner: "alice"}}, rooms)

	lists := h.router.events("a", EventRoomList)
	assert.JSONEq(t, `[[{"name":"general","owner":"alice"}]]`, string(lists[len(lists)-1]))
}

func TestJoinUnknownRoomKeepsUserInPlace(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()

	h.call("b", EventJoinRoom, "nowhere")
	h.requireReply("b", `[false,"Room does not exist."]`)

	members, found, err := h.d.RoomMembers(h.ctx, "lounge")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"alice", "bob"}, members)
	assert.Empty(t, h.router.eventNames("a"))
}

func TestSwitchRoomAppliesLeaveSideFirst(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()
	h.call("a", EventCreateRoom, "kitchen")
	h.router.reset()

	h.call("a", EventJoinRoom, "kitchen")
	h.requireReply("a", `[true]`)

	leave := h.router.indexOf("room:lounge:" + EventRoomUsers)
	join := h.router.indexOf("room:kitchen:" + EventRoomUsers)
	require.NotEqual(t, -1, leave)
	require.NotEqual(t, -1, join)
	assert.Less(t, leave, join)

	var notice []models.SystemMessage
	system := h.router.events("b", EventSystemMessage)
	require.Len(t, system, 1)
	require.NoError(t, json.Unmarshal(system[0], &notice))
	assert.Equal(t, "alice has left the room.", notice[0].Text)
	assert.JSONEq(t, `[["bob"]]`, string(h.router.events("b", EventRoomUsers)[0]))

	assert.JSONEq(t, `["kitchen",["alice"]]`, string(h.router.events("a", EventJoinedRoom)[0]))
	assert.Empty(t, h.router.events("a", EventSystemMessage))

	lounge, _, err := h.d.RoomMembers(h.ctx, "lounge")
	require.NoError(t, err)
	kitchen, _, err := h.d.RoomMembers(h.ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, lounge)
	assert.Equal(t, []string{"alice"}, kitchen)
}

func TestRejoinCurrentRoomResendsSnapshotOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()

	h.call("a", EventJoinRoom, "lounge")
	h.requireReply("a", `[true]`)

	assert.Equal(t, []string{EventJoinedRoom, EventRoomHistory}, h.router.eventNames("a"))
	assert.Empty(t, h.router.eventNames("b"))
}

func TestChatMessageFanOutAndNotifications(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()
	h.enterLobby("c", "carol")
	h.router.reset()

	h.fire("a", EventChatMessage, map[string]string{"room": "lounge", "text": "<b>hi</b>", "id": "m1"})

	for _, conn := range []string{"a", "b"} {
		msgs := h.router.events(conn, EventChatMessage)
		require.Len(t, msgs, 1, conn)
		var args []models.Message
		require.NoError(t, json.Unmarshal(msgs[0], &args))
		assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", args[0].Text)
		assert.Equal(t, "alice", args[0].User)
		assert.Empty(t, h.router.events(conn, EventNewMessage))
	}
	assert.Empty(t, h.router.events("c", EventChatMessage))
	notes := h.router.events("c", EventNewMessage)
	require.Len(t, notes, 1)
	assert.JSONEq(t, `["lounge"]`, string(notes[0]))
}

func TestChatMessageRequiresMembershipAndUniqueID(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()
	h.enterLobby("c", "carol")
	h.router.reset()

	h.fire("c", EventChatMessage, map[string]string{"room": "lounge", "text": "sneaky", "id": "x"})
	h.fire("a", EventChatMessage, map[string]string{"room": "lounge", "text": "   ", "id": "y"})
	assert.Empty(t, h.router.events("b", EventChatMessage))

	h.fire("a", EventChatMessage, map[string]string{"room": "lounge", "text": "one", "id": "m1"})
	h.fire("b", EventChatMessage, map[string]string{"room": "lounge", "text": "two", "id": "m1"})
	assert.Len(t, h.router.events("a", EventChatMessage), 1)
}

func TestEditMessageAuthorization(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()
	h.fire("a", EventChatMessage, map[string]string{"room": "lounge", "text": "hi", "id": "m1"})
	h.router.reset()

	h.fire("b", EventEditMessage, map[string]string{"id": "m1", "text": "hacked", "room": "lounge"})
	h.fire("a", EventEditMessage, map[string]string{"id": "m1", "text": "moved", "room": "kitchen"})
	h.fire("a", EventEditMessage, map[string]string{"id": "nope", "text": "x", "room": "lounge"})
	assert.Empty(t, h.router.events("b", EventEditMessage))

	h.fire("a", EventEditMessage, map[string]string{"id": "m1", "text": "hello", "room": "lounge"})
	edits := h.router.events("b", EventEditMessage)
	require.Len(t, edits, 1)
	assert.JSONEq(t, `[{"id":"m1","text":"hello"}]`, string(edits[0]))

	h.router.connect("c")
	h.call("c", EventJoinLobby, "carol")
	h.call("c", EventJoinRoom, "lounge")
	var args [][]models.Message
	require.NoError(t, json.Unmarshal(h.router.events("c", EventRoomHistory)[0], &args))
	require.Len(t, args[0], 1)
	assert.Equal(t, "m1", args[0][0].ID)
	assert.Equal(t, "alice", args[0][0].User)
	assert.Equal(t, "hello", args[0][0].Text)
	assert.True(t, args[0][0].Edited)
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()
	h.fire("a", EventChatMessage, map[string]string{"room": "lounge", "text": "hi", "id": "m1"})
	h.router.reset()

	h.fire("b", EventDeleteMessage, map[string]string{"id": "m1", "room": "lounge"})
	assert.Empty(t, h.router.events("a", EventDeleteMessage))

	h.fire("a", EventDeleteMessage, map[string]string{"id": "m1", "room": "lounge"})
	deletions := h.router.events("b", EventDeleteMessage)
	require.Len(t, deletions, 1)
	assert.JSONEq(t, `[{"id":"m1"}]`, string(deletions[0]))

	h.call("b", EventJoinRoom, "lounge")
	assert.JSONEq(t, `[[]]`, string(h.router.events("b", EventRoomHistory)[0]))
}

func TestDeleteRoomByOwnerEvictsMembers(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()
	h.fire("a", EventChatMessage, map[string]string{"room": "lounge", "text": "hi", "id": "m1"})

	h.call("b", EventDeleteRoom, "lounge")
	h.requireReply("b", `[false,"Only the room owner can delete it."]`)
	members, found, err := h.d.RoomMembers(h.ctx, "lounge")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, members, 2)
	h.router.reset()

	h.call("a", EventDeleteRoom, "lounge")
	h.requireReply("a", `[true]`)

	var notice []models.SystemMessage
	require.NoError(t, json.Unmarshal(h.router.events("b", EventSystemMessage)[0], &notice))
	assert.Equal(t, "Room lounge was deleted by alice.", notice[0].Text)
	assert.JSONEq(t, `["lounge"]`, string(h.router.events("b", EventRoomDeleted)[0]))
	assert.JSONEq(t, `["lounge"]`, string(h.router.events("a", EventRoomDeleted)[0]))
	assert.JSONEq(t, `[[]]`, string(h.router.events("b", EventRoomList)[0]))
	assert.Less(t, h.router.indexOf("room:lounge:"+EventSystemMessage), h.router.indexOf("evict:lounge"))

	_, found, err = h.d.RoomMembers(h.ctx, "lounge")
	require.NoError(t, err)
	assert.False(t, found)

	h.router.reset()
	h.fire("b", EventChatMessage, map[string]string{"room": "lounge", "text": "anyone?", "id": "m2"})
	assert.Empty(t, h.router.eventNames("a"))
	assert.Empty(t, h.router.eventNames("b"))

	// A room recreated under the same name starts without history.
	h.call("b", EventCreateRoom, "lounge")
	h.call("b", EventJoinRoom, "lounge")
	assert.JSONEq(t, `[[]]`, string(h.router.events("b", EventRoomHistory)[0]))
}

func TestTypingRelay(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()
	h.enterLobby("c", "carol")
	h.router.reset()

	h.fire("a", EventTyping, "lounge")
	h.fire("a", EventStopTyping, "lounge")
	h.fire("c", EventTyping, "lounge")

	assert.Equal(t, []string{EventTyping, EventStopTyping}, h.router.eventNames("b"))
	assert.JSONEq(t, `["alice"]`, string(h.router.events("b", EventTyping)[0]))
	assert.Empty(t, h.router.eventNames("a"))
}

func TestDisconnectLeavesRoomAndFreesName(t *testing.T) {
	h := newHarness(t, nil)
	h.setupLounge()

	h.router.drop("a")
	h.d.Disconnect("a")
	h.sync()

	var notice []models.SystemMessage
	require.NoError(t, json.Unmarshal(h.router.events("b", EventSystemMessage)[0], &notice))
	assert.Equal(t, "alice has left the room.", notice[0].Text)
	assert.JSONEq(t, `[["bob"]]`, string(h.router.events("b", EventRoomUsers)[0]))
	assert.Len(t, h.router.events("b", EventRoomList), 1)

	h.router.connect("a2")
	h.call("a2", EventCheckUsername, "alice")
	h.requireReply("a2", `[false]`)
	h.call("a2", EventJoinLobby, "alice")
	h.requireReply("a2", `[true]`)

	h.d.Disconnect("never-joined")
	h.sync()
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []string
}

func (a *recordingAuditor) Emit(_ context.Context, level, text, connID, username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, level+"|"+text+"|"+connID+"|"+username)
}

func TestAuditTrail(t *testing.T) {
	audit := &recordingAuditor{}
	h := newHarness(t, audit)
	h.enterLobby("a", "alice")
	h.call("a", EventCreateRoom, "lounge")
	h.call("a", EventDeleteRoom, "lounge")
	h.d.Disconnect("a")
	h.sync()

	audit.mu.Lock()
	defer audit.mu.Unlock()
	assert.Equal(t, []string{
		"INFO|user joined lobby|a|alice",
		`INFO|room "lounge" created|a|alice`,
		`INFO|room "lounge" deleted|a|alice`,
		"INFO|user left|a|alice",
	}, audit.entries)
}

func TestQueryAfterStop(t *testing.T) {
	router := newRecordingRouter()
	d := New(logs.GetLoggerFromLevel(slog.LevelDebug), router, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	cancel()

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	_, err := d.ListRooms(context.Background())
	require.ErrorIs(t, err, ErrStopped)

	// Deliveries after stop must not block.
	d.Deliver("a", models.Frame{Event: EventJoinLobby})
	d.Disconnect("a")
}
