package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/observability"
	"chat-coordinator/internal/presence"
	"chat-coordinator/internal/repositories"
	"chat-coordinator/internal/sanitize"
)

// Inbound event names.
const (
	EventCheckUsername = "check username"
	EventJoinLobby     = "join lobby"
	EventCreateRoom    = "create room"
	EventJoinRoom      = "join room"
	EventDeleteRoom    = "delete room"
	EventChatMessage   = "chat message"
	EventEditMessage   = "edit message"
	EventDeleteMessage = "delete message"
	EventTyping        = "typing"
	EventStopTyping    = "stop typing"
)

// Outbound event names.
const (
	EventRoomList      = "room list"
	EventJoinedRoom    = "joined room"
	EventRoomHistory   = "room history"
	EventRoomUsers     = "room users"
	EventSystemMessage = "system message"
	EventNewMessage    = "new message notification"
	EventRoomDeleted   = "room deleted"
)

const eventDisconnect = "disconnect"

const (
	outcomeOK           = "ok"
	outcomeRejected     = "rejected"
	outcomeIgnored      = "ignored"
	outcomeUnknownEvent = "unknown"
)

const (
	msgJoinLobbyFirst     = "Join the lobby first."
	msgSomethingWentWrong = "Something went wrong."
)

type chatPayload struct {
	Room string `json:"room" validate:"required"`
	Text string `json:"text" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

type editPayload struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text" validate:"required"`
	Room string `json:"room" validate:"required"`
}

type deletePayload struct {
	ID   string `json:"id" validate:"required"`
	Room string `json:"room" validate:"required"`
}

type lobbyPayload struct {
	Username string `json:"username" validate:"required"`
}

// acker answers an ack-bearing frame at most once.
type acker struct {
	router Router
	connID string
	id     *int64
	sent   bool
}

func (a *acker) reply(args ...any) {
	if a.id == nil || a.sent {
		return
	}
	a.sent = true
	a.router.Reply(a.connID, *a.id, args...)
}

func (d *Dispatcher) handle(ctx context.Context, connID string, frame models.Frame) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatch "+frame.Event, trace.WithAttributes(
		attribute.String("chat.event", frame.Event),
		attribute.String("chat.conn_id", connID),
	))
	defer span.End()

	ack := &acker{router: d.router, connID: connID, id: frame.Ack}
	var outcome string
	switch frame.Event {
	case EventCheckUsername:
		outcome = d.checkUsername(frame, ack)
	case EventJoinLobby:
		outcome = d.joinLobby(ctx, connID, frame, ack)
	case EventCreateRoom:
		outcome = d.createRoom(ctx, connID, frame, ack)
	case EventJoinRoom:
		outcome = d.joinRoom(connID, frame, ack)
	case EventDeleteRoom:
		outcome = d.deleteRoom(ctx, connID, frame, ack)
	case EventChatMessage:
		outcome = d.chatMessage(connID, frame)
	case EventEditMessage:
		outcome = d.editMessage(connID, frame)
	case EventDeleteMessage:
		outcome = d.deleteMessage(connID, frame)
	case EventTyping, EventStopTyping:
		outcome = d.relayTyping(connID, frame)
	default:
		outcome = outcomeUnknownEvent
		d.log.Debug("unknown event", "event", frame.Event, "conn_id", connID)
	}

	span.SetAttributes(attribute.String("chat.outcome", outcome))
	if outcome == outcomeRejected {
		span.SetStatus(codes.Error, outcome)
	}
	d.observe(frame.Event, outcome, start)
}

func (d *Dispatcher) observe(event, outcome string, start time.Time) {
	observability.IncWSEvent(event, outcome)
	observability.ObserveDispatch(time.Since(start))
	observability.SetPopulation(d.identities.Count(), d.directory.Count())
}

func (d *Dispatcher) checkUsername(frame models.Frame, ack *acker) string {
	var name string
	if !frame.Arg(0, &name) {
		return outcomeIgnored
	}
	ack.reply(d.identities.IsTaken(name))
	return outcomeOK
}

func (d *Dispatcher) joinLobby(ctx context.Context, connID string, frame models.Frame, ack *acker) string {
	name, ok := d.lobbyName(frame)
	if !ok {
		return outcomeIgnored
	}
	user, err := d.presence.EnterLobby(connID, name)
	if err != nil {
		d.log.Info("lobby join rejected", "conn_id", connID, "error", err)
		ack.reply(false, userMessage(err))
		return outcomeRejected
	}

	d.log.Info("user joined lobby", "conn_id", connID, "username", user.Name)
	ack.reply(true)
	d.broadcastRoomList()
	d.emitAudit(ctx, "INFO", "user joined lobby", connID, user.Name)
	return outcomeOK
}

// lobbyName accepts either a bare name or {"username": name}.
func (d *Dispatcher) lobbyName(frame models.Frame) (string, bool) {
	var name string
	if frame.Arg(0, &name) {
		return name, true
	}
	var payload lobbyPayload
	if frame.Arg(0, &payload) && d.validate.Struct(payload) == nil {
		return payload.Username, true
	}
	return "", false
}

func (d *Dispatcher) createRoom(ctx context.Context, connID string, frame models.Frame, ack *acker) string {
	var name string
	if !frame.Arg(0, &name) {
		return outcomeIgnored
	}
	user, ok := d.requireUser(connID, ack)
	if !ok {
		return outcomeRejected
	}
	room, err := d.directory.CreateRoom(name, user.Name)
	if err != nil {
		ack.reply(false, userMessage(err))
		return outcomeRejected
	}

	d.log.Info("room created", "room", room.Name, "owner", room.Owner)
	ack.reply(true)
	d.broadcastRoomList()
	d.emitAudit(ctx, "INFO", fmt.Sprintf("room %q created", room.Name), connID, user.Name)
	return outcomeOK
}

func (d *Dispatcher) joinRoom(connID string, frame models.Frame, ack *acker) string {
	var target string
	if !frame.Arg(0, &target) {
		return outcomeIgnored
	}
	sw, err := d.presence.SwitchRoom(connID, target)
	if err != nil {
		ack.reply(false, userMessage(err))
		return outcomeRejected
	}
	ack.reply(true)

	room := sw.Snapshot.Room
	if sw.Rejoined {
		d.sendSnapshot(connID, sw.Snapshot)
		return outcomeOK
	}

	// Old room first so nobody observes the user in two rooms.
	if sw.Left != nil {
		d.router.Leave(connID, sw.Left.Room)
		d.announceDeparture(*sw.Left)
	}

	d.router.Join(connID, room)
	d.sendSnapshot(connID, sw.Snapshot)
	d.router.EmitRoom(room, connID, EventSystemMessage, d.systemMessage("%s has joined the room.", sw.User.Name))
	d.router.EmitRoom(room, "", EventRoomUsers, sw.Snapshot.Members)
	d.log.Info("user joined room", "conn_id", connID, "username", sw.User.Name, "room", room)
	return outcomeOK
}

func (d *Dispatcher) sendSnapshot(connID string, snapshot models.RoomSnapshot) {
	d.router.Emit(connID, EventJoinedRoom, snapshot.Room, snapshot.Members)
	d.router.Emit(connID, EventRoomHistory, snapshot.History)
}

func (d *Dispatcher) deleteRoom(ctx context.Context, connID string, frame models.Frame, ack *acker) string {
	var name string
	if !frame.Arg(0, &name) {
		return outcomeIgnored
	}
	eviction, err := d.presence.DeleteRoom(connID, name)
	if err != nil {
		ack.reply(false, userMessage(err))
		return outcomeRejected
	}
	ack.reply(true)

	d.router.EmitRoom(eviction.Room, "", EventSystemMessage, d.systemMessage("Room %s was deleted by %s.", eviction.Room, eviction.Owner))
	evicted := d.router.Evict(eviction.Room)
	for _, conn := range eviction.Conns {
		d.router.Emit(conn, EventRoomDeleted, eviction.Room)
	}
	d.broadcastRoomList()

	d.log.Info("room deleted", "room", eviction.Room, "owner", eviction.Owner, "evicted", len(evicted))
	d.emitAudit(ctx, "INFO", fmt.Sprintf("room %q deleted", eviction.Room), connID, eviction.Owner)
	return outcomeOK
}

func (d *Dispatcher) chatMessage(connID string, frame models.Frame) string {
	var payload chatPayload
	if !d.decode(frame, &payload) {
		return outcomeIgnored
	}
	user, ok := d.presence.Lookup(connID)
	if !ok || user.Room != payload.Room {
		return outcomeIgnored
	}
	text := sanitize.Text(payload.Text)
	if text == "" {
		return outcomeIgnored
	}
	msg, err := d.ledger.Post(user.Room, user.Name, text, payload.ID)
	if err != nil {
		d.log.Debug("chat message rejected", "conn_id", connID, "error", err)
		return outcomeRejected
	}

	d.router.EmitRoom(msg.Room, "", EventChatMessage, msg)
	for _, other := range d.identities.Users() {
		if other.Room != msg.Room {
			d.router.Emit(other.ConnID, EventNewMessage, msg.Room)
		}
	}
	return outcomeOK
}

func (d *Dispatcher) editMessage(connID string, frame models.Frame) string {
	var payload editPayload
	if !d.decode(frame, &payload) {
		return outcomeIgnored
	}
	user, ok := d.presence.Lookup(connID)
	if !ok {
		return outcomeIgnored
	}
	text := sanitize.Text(payload.Text)
	if text == "" {
		return outcomeIgnored
	}
	msg, err := d.ledger.Edit(payload.ID, user.Name, text, payload.Room)
	if err != nil {
		d.log.Debug("edit rejected", "conn_id", connID, "message_id", payload.ID, "error", err)
		return outcomeRejected
	}
	d.router.EmitRoom(msg.Room, "", EventEditMessage, models.MessageEdit{ID: msg.ID, Text: msg.Text})
	return outcomeOK
}

func (d *Dispatcher) deleteMessage(connID string, frame models.Frame) string {
	var payload deletePayload
	if !d.decode(frame, &payload) {
		return outcomeIgnored
	}
	user, ok := d.presence.Lookup(connID)
	if !ok {
		return outcomeIgnored
	}
	msg, err := d.ledger.Remove(payload.ID, user.Name, payload.Room)
	if err != nil {
		d.log.Debug("delete rejected", "conn_id", connID, "message_id", payload.ID, "error", err)
		return outcomeRejected
	}
	d.router.EmitRoom(msg.Room, "", EventDeleteMessage, models.MessageDeletion{ID: msg.ID})
	return outcomeOK
}

func (d *Dispatcher) relayTyping(connID string, frame models.Frame) string {
	var room string
	if !frame.Arg(0, &room) {
		return outcomeIgnored
	}
	user, ok := d.presence.Lookup(connID)
	if !ok || user.Room != room {
		return outcomeIgnored
	}
	d.router.EmitRoom(room, connID, frame.Event, user.Name)
	return outcomeOK
}

func (d *Dispatcher) disconnect(ctx context.Context, connID string) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatch "+eventDisconnect, trace.WithAttributes(attribute.String("chat.conn_id", connID)))
	defer span.End()

	user, departure, ok := d.presence.Disconnect(connID)
	if !ok {
		d.observe(eventDisconnect, outcomeIgnored, start)
		return
	}
	if departure != nil {
		d.router.Leave(connID, departure.Room)
		d.announceDeparture(*departure)
	}
	d.broadcastRoomList()

	d.log.Info("user disconnected", "conn_id", connID, "username", user.Name)
	d.emitAudit(ctx, "INFO", "user left", connID, user.Name)
	d.observe(eventDisconnect, outcomeOK, start)
}

func (d *Dispatcher) announceDeparture(dep presence.Departure) {
	d.router.EmitRoom(dep.Room, "", EventSystemMessage, d.systemMessage("%s has left the room.", dep.User))
	d.router.EmitRoom(dep.Room, "", EventRoomUsers, dep.Remaining)
}

func (d *Dispatcher) broadcastRoomList() {
	d.router.EmitAll(EventRoomList, d.directory.ListRooms())
}

func (d *Dispatcher) requireUser(connID string, ack *acker) (models.User, bool) {
	user, ok := d.presence.Lookup(connID)
	if !ok {
		ack.reply(false, msgJoinLobbyFirst)
	}
	return user, ok
}

func (d *Dispatcher) decode(frame models.Frame, dst any) bool {
	return frame.Arg(0, dst) && d.validate.Struct(dst) == nil
}

func (d *Dispatcher) systemMessage(format string, args ...any) models.SystemMessage {
	return models.NewSystemMessage(fmt.Sprintf(format, args...), d.now())
}

func (d *Dispatcher) emitAudit(ctx context.Context, level, text, connID, username string) {
	if d.audit == nil {
		return
	}
	d.audit.Emit(ctx, level, text, connID, username)
}

// userMessage maps a domain error to the text shown to the client.
func userMessage(err error) string {
	switch {
	case errors.Is(err, repositories.ErrNameInvalid):
		return "Username cannot be empty."
	case errors.Is(err, repositories.ErrNameTaken):
		return "Username is already taken."
	case errors.Is(err, repositories.ErrAlreadyRegistered):
		return "You have already joined the lobby."
	case errors.Is(err, repositories.ErrInvalidName):
		return "Room name cannot be empty."
	case errors.Is(err, repositories.ErrRoomExists):
		return "Room name already exists."
	case errors.Is(err, repositories.ErrRoomNotFound):
		return "Room does not exist."
	case errors.Is(err, repositories.ErrNotOwner):
		return "Only the room owner can delete it."
	case errors.Is(err, presence.ErrNotInLobby):
		return msgJoinLobbyFirst
	default:
		return msgSomethingWentWrong
	}
}
