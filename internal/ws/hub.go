// Package ws implements the Connection Supervisor (C7): the socket
// transport lifecycle (accept, identify, dispatch, disconnect), the
// request/acknowledgement convention layered over gorilla/websocket
// frames, and the room-management and history-retrieval operations that
// no other component owns.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/chat"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/fanout"
	"github.com/observer/teatime/internal/registry"
	"github.com/observer/teatime/internal/sfu"
	"github.com/observer/teatime/internal/signalling"
)

// ErrNotRegistered is returned by ack handlers that require an identified
// session (register_user not yet received on this connection).
var ErrNotRegistered = errors.New("session not registered")

// Rooms is the room-management surface the socket-only operations
// (get_rooms, start_private_chat, create_group) need that no other
// component wraps. database.RoomRepository satisfies this.
type Rooms interface {
	GetUserRooms(ctx context.Context, userID uuid.UUID) ([]domain.Room, error)
	FindPrivateRoom(ctx context.Context, user1, user2 uuid.UUID) (*domain.Room, error)
	Create(ctx context.Context, room *domain.Room, memberIDs []uuid.UUID, createdBy *uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
}

// Calls backs the get_recordings ack. database.CallRepository satisfies
// this.
type Calls interface {
	GetRecordingsForCall(ctx context.Context, callID uuid.UUID) ([]domain.Recording, error)
}

// Users backs presence persistence and the start_private_chat ack's
// otherUser lookup. database.UserRepository satisfies this.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	SetOnline(ctx context.Context, userID uuid.UUID, online bool) error
}

// Hub is C7. It owns the live client set and is the single Emitter every
// other component (Fanout, Chat, Signalling) is wired against.
type Hub struct {
	registry   *registry.Registry
	fanout     *fanout.Fanout
	chat       *chat.Chat
	signalling *signalling.Signalling
	sfu        *sfu.SFU
	rooms      Rooms
	calls      Calls
	users      Users
	logger     *slog.Logger

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client // keyed by session id
}

func NewHub(
	reg *registry.Registry,
	fo *fanout.Fanout,
	c *chat.Chat,
	sig *signalling.Signalling,
	s *sfu.SFU,
	rooms Rooms,
	calls Calls,
	users Users,
	logger *slog.Logger,
) *Hub {
	return &Hub{
		registry:   reg,
		fanout:     fo,
		chat:       c,
		signalling: sig,
		sfu:        s,
		rooms:      rooms,
		calls:      calls,
		users:      users,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uuid.UUID]*Client),
	}
}

// SetCollaborators wires the components constructed after the Hub itself,
// breaking the construction cycle: Fanout/Chat/Signalling each need the
// Hub as their Emitter (and the SFU needs the Fanout), so the Hub must
// exist (as a pointer other components can hold) before they can be built.
func (h *Hub) SetCollaborators(fo *fanout.Fanout, c *chat.Chat, sig *signalling.Signalling, s *sfu.SFU) {
	h.fanout = fo
	h.chat = c
	h.signalling = sig
	h.sfu = s
}

// EmitToSession implements fanout.Emitter, chat.Emitter and
// signalling.Emitter with a single method: every component that needs to
// reach one connection goes through the Hub.
func (h *Hub) EmitToSession(sessionID uuid.UUID, event string, payload interface{}) {
	h.mu.RLock()
	client, ok := h.clients[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	client.enqueue(newEnvelope(event, payload))
}

// broadcastAll delivers an event to every currently connected session,
// optionally skipping one. Presence events (user_status_changed,
// users_online) are global, unlike chat/media events which are always
// scoped to a room via Fanout.
func (h *Hub) broadcastAll(exclude uuid.UUID, event string, payload interface{}) {
	for _, sessionID := range h.registry.Sessions() {
		if sessionID == exclude {
			continue
		}
		h.EmitToSession(sessionID, event, payload)
	}
}

func (h *Hub) onlineUsersSnapshot() []onlineUser {
	var out []onlineUser
	for _, userID := range h.registry.OnlineUserIDs() {
		sessionID, ok := h.registry.SessionOf(userID)
		if !ok {
			continue
		}
		entry, ok := h.registry.UserOf(sessionID)
		if !ok {
			continue
		}
		out = append(out, onlineUser{UserID: userID, Username: entry.Username})
	}
	return out
}

// Run owns the client-set lifecycle; register/unregister are serialized
// here so the clients map and the disconnect cascade never race each
// other. Event dispatch itself runs on each connection's own ReadPump
// goroutine, guarded by each collaborator's own locking, matching how the
// rest of this system shares state (spec.md §5).
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.sessionID] = c
			h.mu.Unlock()
		case c := <-h.unregister:
			h.handleDisconnect(ctx, c)
		}
	}
}

// handleDisconnect implements the exact cascade spec.md §4.7 requires, in
// order: SFU teardown, presence flip, registry removal, fresh roster.
func (h *Hub) handleDisconnect(ctx context.Context, c *Client) {
	for _, roomID := range c.joinedMediaRooms() {
		h.sfu.LeaveMediaRoom(ctx, roomID, c.sessionID)
	}

	userID, registered := c.UserID()
	if registered {
		remaining := h.registry.SessionsOf(userID)
		lastSession := len(remaining) <= 1
		if lastSession {
			if err := h.users.SetOnline(ctx, userID, false); err != nil {
				h.logger.Warn("ws: set offline failed", "user_id", userID, "error", err)
			}
			h.broadcastAll(c.sessionID, EventUserStatusChanged, userStatusChanged{
				UserID: userID, Username: c.Username(), Online: false,
			})
		}
	}

	h.registry.Unregister(c.sessionID)

	h.mu.Lock()
	delete(h.clients, c.sessionID)
	h.mu.Unlock()
	close(c.send)
	if c.cancel != nil {
		c.cancel()
	}

	h.broadcastAll(uuid.Nil, EventUsersOnline, h.onlineUsersSnapshot())
}

// dispatch decodes one inbound frame and routes it to the collaborator
// that owns it, replying with an ack when the client supplied a ReqID.
func (h *Hub) dispatch(ctx context.Context, c *Client, env Envelope) {
	switch env.Type {
	case EventRegisterUser:
		h.handleRegisterUser(c, env)
	case EventGetOnlineUsers:
		h.EmitToSession(c.sessionID, EventUsersOnline, h.onlineUsersSnapshot())
	case EventTypingStart:
		h.handleTyping(ctx, c, env, EventUserTyping)
	case EventTypingStop:
		h.handleTyping(ctx, c, env, EventUserStoppedTyping)
	case EventSendGroupMessage:
		h.handleSendGroupMessage(ctx, c, env)
	case EventSendPrivateMsg:
		h.handleSendPrivateMessage(ctx, c, env)
	case EventGetMessages:
		h.handleGetMessages(ctx, c, env)
	case EventMessageDelivered:
		h.handleMessageDelivered(ctx, c, env)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, env)
	case EventGetRooms:
		h.handleGetRooms(ctx, c, env)
	case EventStartPrivateChat:
		h.handleStartPrivateChat(ctx, c, env)
	case EventCreateGroup:
		h.handleCreateGroup(ctx, c, env)
	case EventJoinMediaRoom:
		h.handleJoinMediaRoom(ctx, c, env)
	case EventSetRTPCapabilities:
		h.handleSetRTPCapabilities(c, env)
	case EventCreateTransport:
		h.handleCreateTransport(ctx, c, env)
	case EventConnectTransport:
		h.handleConnectTransport(c, env)
	case EventProduce:
		h.handleProduce(ctx, c, env)
	case EventConsume:
		h.handleConsume(ctx, c, env)
	case EventResumeConsumer:
		h.handleResumeConsumer(c, env)
	case EventGetProducers:
		h.handleGetProducers(c, env)
	case EventLeaveMediaRoom:
		h.handleLeaveMediaRoom(ctx, c, env)
	case EventCallUser:
		h.handleCallUser(ctx, c, env)
	case EventAnswerCall:
		h.handleAnswerCall(ctx, c, env)
	case EventRejectCall:
		h.handleRejectCall(ctx, c, env)
	case EventEndCall:
		h.handleEndCall(ctx, c, env)
	case EventIceCandidateIn:
		h.handleIceCandidate(c, env)
	case EventGetCallHistory:
		h.handleGetCallHistory(ctx, c, env)
	case EventGetRecordings:
		h.handleGetRecordings(ctx, c, env)
	default:
		c.sendError("unknown event type: " + env.Type)
	}
}

func decode[T any](env Envelope) (T, error) {
	var payload T
	if len(env.Payload) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(env.Payload, &payload)
	return payload, err
}

// handleRegisterUser implements `register_user` (see DESIGN.md Open
// Question 6: the socket layer trusts the client-supplied identity
// directly, there is no credential in this event's payload).
func (h *Hub) handleRegisterUser(c *Client, env Envelope) {
	payload, err := decode[registerUserPayload](env)
	if err != nil || payload.UserID == uuid.Nil || payload.Username == "" {
		c.sendError("register_user: invalid payload")
		return
	}

	c.setUser(payload.UserID, payload.Username)
	firstSession := h.registry.Register(c.sessionID, payload.UserID, payload.Username)
	if firstSession {
		if err := h.users.SetOnline(context.Background(), payload.UserID, true); err != nil {
			h.logger.Warn("ws: set online failed", "user_id", payload.UserID, "error", err)
		}
	}

	h.broadcastAll(uuid.Nil, EventUserStatusChanged, userStatusChanged{
		UserID: payload.UserID, Username: payload.Username, Online: true,
	})
	h.broadcastAll(uuid.Nil, EventUsersOnline, h.onlineUsersSnapshot())
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, env Envelope, event string) {
	payload, err := decode[roomIDPayload](env)
	if err != nil {
		return
	}
	userID, ok := c.UserID()
	if !ok {
		return
	}
	h.fanout.Broadcast(ctx, payload.RoomID, c.sessionID, event, typingBroadcast{
		RoomID: payload.RoomID, UserID: userID, Username: c.Username(),
	})
}

func (h *Hub) handleSendGroupMessage(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[sendGroupMessagePayload](env)
	if err != nil {
		c.sendError("send_group_message: invalid payload")
		return
	}
	userID, ok := c.UserID()
	if !ok {
		c.sendError("not registered")
		return
	}
	if _, err := h.chat.SendGroupMessage(ctx, payload.RoomID, userID, payload.Text); err != nil {
		h.logger.Warn("ws: send_group_message failed", "room_id", payload.RoomID, "error", err)
		c.sendError(err.Error())
	}
}

func (h *Hub) handleSendPrivateMessage(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[sendPrivateMessagePayload](env)
	if err != nil {
		c.sendError("send_private_message: invalid payload")
		return
	}
	userID, ok := c.UserID()
	if !ok {
		c.sendError("not registered")
		return
	}
	if _, err := h.chat.SendPrivateMessage(ctx, payload.RoomID, userID, payload.Text); err != nil {
		h.logger.Warn("ws: send_private_message failed", "room_id", payload.RoomID, "error", err)
		c.sendError(err.Error())
	}
}

func (h *Hub) handleGetMessages(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[getMessagesPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	msgs, err := h.chat.GetMessages(ctx, payload.RoomID, payload.Before, payload.Limit)
	c.ack(env.ReqID, msgs, err)
}

func (h *Hub) handleMessageDelivered(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[messageDeliveredPayload](env)
	if err != nil {
		return
	}
	userID, ok := c.UserID()
	if !ok {
		return
	}
	if err := h.chat.MessageDelivered(ctx, payload.MessageID, userID); err != nil {
		h.logger.Warn("ws: message_delivered failed", "message_id", payload.MessageID, "error", err)
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[roomIDPayload](env)
	if err != nil {
		return
	}
	userID, ok := c.UserID()
	if !ok {
		return
	}
	if err := h.chat.MarkRead(ctx, payload.RoomID, userID); err != nil {
		h.logger.Warn("ws: mark_read failed", "room_id", payload.RoomID, "error", err)
	}
}

func (h *Hub) handleGetRooms(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[getRoomsPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	rooms, err := h.rooms.GetUserRooms(ctx, payload.UserID)
	c.ack(env.ReqID, rooms, err)
}

func (h *Hub) handleStartPrivateChat(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[startPrivateChatPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}

	existing, err := h.rooms.FindPrivateRoom(ctx, payload.UserID, payload.TargetUserID)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}

	otherUser, err := h.users.GetByID(ctx, payload.TargetUserID)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}

	if existing != nil {
		c.ack(env.ReqID, startPrivateChatAck{Room: *existing, OtherUser: otherUser.ToPublic(), Created: false}, nil)
		return
	}

	room := &domain.Room{ID: uuid.New(), Type: domain.RoomTypePrivate}
	members := []uuid.UUID{payload.UserID, payload.TargetUserID}
	if err := h.rooms.Create(ctx, room, members, &payload.UserID); err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}

	hydrated, err := h.rooms.GetByID(ctx, room.ID)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	c.ack(env.ReqID, startPrivateChatAck{Room: *hydrated, OtherUser: otherUser.ToPublic(), Created: true}, nil)
}

func (h *Hub) handleCreateGroup(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[createGroupPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}

	members := payload.MemberIDs
	hasCreator := false
	for _, id := range members {
		if id == payload.CreatedBy {
			hasCreator = true
			break
		}
	}
	if !hasCreator {
		members = append(members, payload.CreatedBy)
	}

	room := &domain.Room{ID: uuid.New(), Type: domain.RoomTypeGroup, Name: payload.Name}
	if err := h.rooms.Create(ctx, room, members, &payload.CreatedBy); err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}

	hydrated, err := h.rooms.GetByID(ctx, room.ID)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	c.ack(env.ReqID, createGroupAck{Room: *hydrated}, nil)
}

func (h *Hub) handleJoinMediaRoom(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[roomIDPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	userID, ok := c.UserID()
	if !ok {
		c.ack(env.ReqID, nil, ErrNotRegistered)
		return
	}

	caps, err := h.sfu.JoinMediaRoom(ctx, payload.RoomID, c.sessionID, userID, c.Username())
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	c.addMediaRoom(payload.RoomID)
	c.ack(env.ReqID, joinMediaRoomAck{RouterRTPCapabilities: caps}, nil)
}

func (h *Hub) handleSetRTPCapabilities(c *Client, env Envelope) {
	payload, err := decode[setRTPCapabilitiesPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	err = h.sfu.SetRTPCapabilities(payload.RoomID, c.sessionID, payload.RTPCapabilities)
	c.ack(env.ReqID, nil, err)
}

func (h *Hub) handleCreateTransport(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[createTransportPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	params, err := h.sfu.CreateTransport(ctx, payload.RoomID, c.sessionID, payload.Direction)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	c.ack(env.ReqID, createTransportAck{ID: params.ID, SDP: params.SDP}, nil)
}

func (h *Hub) handleConnectTransport(c *Client, env Envelope) {
	payload, err := decode[connectTransportPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	err = h.sfu.ConnectTransport(payload.RoomID, payload.TransportID, payload.DTLSParameters)
	c.ack(env.ReqID, nil, err)
}

func (h *Hub) handleProduce(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[producePayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	producerID, err := h.sfu.Produce(ctx, payload.RoomID, c.sessionID, payload.TransportID, payload.Kind)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	c.ack(env.ReqID, map[string]uuid.UUID{"id": producerID}, nil)
}

func (h *Hub) handleConsume(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[consumePayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	descriptor, err := h.sfu.Consume(ctx, payload.RoomID, c.sessionID, payload.ProducerID)
	c.ack(env.ReqID, descriptor, err)
}

func (h *Hub) handleResumeConsumer(c *Client, env Envelope) {
	payload, err := decode[resumeConsumerPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	err = h.sfu.ResumeConsumer(payload.RoomID, payload.ConsumerID)
	c.ack(env.ReqID, nil, err)
}

func (h *Hub) handleGetProducers(c *Client, env Envelope) {
	payload, err := decode[roomIDPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	producers, err := h.sfu.GetProducers(payload.RoomID, c.sessionID)
	c.ack(env.ReqID, producers, err)
}

func (h *Hub) handleLeaveMediaRoom(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[roomIDPayload](env)
	if err != nil {
		return
	}
	h.sfu.LeaveMediaRoom(ctx, payload.RoomID, c.sessionID)
	c.removeMediaRoom(payload.RoomID)
}

func (h *Hub) handleCallUser(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[callUserPayload](env)
	if err != nil {
		return
	}
	userID, ok := c.UserID()
	if !ok {
		return
	}
	if err := h.signalling.CallUser(ctx, c.sessionID, userID, payload.RoomID, payload.To, payload.Signal, payload.IsVideo); err != nil {
		h.logger.Warn("ws: call_user failed", "room_id", payload.RoomID, "error", err)
	}
}

func (h *Hub) handleAnswerCall(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[answerCallPayload](env)
	if err != nil {
		return
	}
	userID, ok := c.UserID()
	if !ok {
		return
	}
	if err := h.signalling.AnswerCall(ctx, userID, payload.RoomID, payload.To, payload.Signal); err != nil {
		h.logger.Warn("ws: answer_call failed", "room_id", payload.RoomID, "error", err)
	}
}

func (h *Hub) handleRejectCall(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[callTargetPayload](env)
	if err != nil {
		return
	}
	if err := h.signalling.RejectCall(ctx, payload.RoomID, payload.To); err != nil {
		h.logger.Warn("ws: reject_call failed", "room_id", payload.RoomID, "error", err)
	}
}

func (h *Hub) handleEndCall(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[callTargetPayload](env)
	if err != nil {
		return
	}
	if err := h.signalling.EndCall(ctx, payload.RoomID, payload.To); err != nil {
		h.logger.Warn("ws: end_call failed", "room_id", payload.RoomID, "error", err)
	}
}

func (h *Hub) handleIceCandidate(c *Client, env Envelope) {
	payload, err := decode[iceCandidatePayload](env)
	if err != nil {
		return
	}
	h.signalling.IceCandidate(c.sessionID, payload.To, payload.Candidate)
}

func (h *Hub) handleGetCallHistory(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[getCallHistoryPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	if _, ok := c.UserID(); !ok {
		c.ack(env.ReqID, nil, ErrNotRegistered)
		return
	}
	history, err := h.signalling.GetCallHistory(ctx, payload.RoomID, payload.Limit, payload.Offset)
	c.ack(env.ReqID, history, err)
}

func (h *Hub) handleGetRecordings(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[getRecordingsPayload](env)
	if err != nil {
		c.ack(env.ReqID, nil, err)
		return
	}
	recs, err := h.calls.GetRecordingsForCall(ctx, payload.CallID)
	c.ack(env.ReqID, recs, err)
}
