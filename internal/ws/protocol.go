package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/sfu"
)

// Envelope is the one frame shape every inbound and outbound message uses.
// ReqID is set by the client on events spec.md §6 marks "(ack)"; the server
// echoes it back on exactly one reply frame of type EventAck. Plain
// gorilla/websocket has no built-in request/response correlation (unlike
// the socket.io transport this protocol was distilled from), so ReqID is
// the minimal addition needed to emulate one.
type Envelope struct {
	Type      string          `json:"type"`
	ReqID     string          `json:"reqId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

func newEnvelope(eventType string, payload interface{}) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{Type: eventType, Payload: raw, Timestamp: time.Now()}
}

// EventAck is the outbound frame type carrying an acknowledgement. Data is
// omitted on failure; Error is omitted on success.
const EventAck = "ack"

type AckPayload struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Inbound event names, verbatim from spec.md §6.
const (
	EventRegisterUser     = "register_user"
	EventGetOnlineUsers   = "get_online_users"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventSendGroupMessage = "send_group_message"
	EventSendPrivateMsg   = "send_private_message"
	EventGetMessages      = "get_messages"
	EventMessageDelivered = "message_delivered"
	EventMarkRead         = "mark_read"
	EventGetRooms         = "get_rooms"
	EventStartPrivateChat = "start_private_chat"
	EventCreateGroup      = "create_group"
	EventJoinMediaRoom    = "join_media_room"
	EventSetRTPCapabilities = "set_rtp_capabilities"
	EventCreateTransport  = "create_transport"
	EventConnectTransport = "connect_transport"
	EventProduce          = "produce"
	EventConsume          = "consume"
	EventResumeConsumer   = "resume_consumer"
	EventGetProducers     = "get_producers"
	EventLeaveMediaRoom   = "leave_media_room"
	EventCallUser         = "call_user"
	EventAnswerCall       = "answer_call"
	EventRejectCall       = "reject_call"
	EventEndCall          = "end_call"
	EventIceCandidateIn   = "ice_candidate"
	EventGetCallHistory   = "get_call_history"
	EventGetRecordings    = "get_recordings"
)

// Outbound event names, verbatim from spec.md §6. Several (new_producer,
// peer_left, incoming_call, ...) are already defined as exported constants
// on internal/sfu and internal/signalling; those packages own the names
// because they own the payload shape. Only the names unique to this
// package's own broadcasts are declared here.
const (
	EventUserStatusChanged    = "user_status_changed"
	EventUsersOnline          = "users_online"
	EventUserTyping           = "user_typing"
	EventUserStoppedTyping    = "user_stopped_typing"
)

// --- inbound payloads ---

type registerUserPayload struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

type roomIDPayload struct {
	RoomID uuid.UUID `json:"roomId"`
}

type sendGroupMessagePayload struct {
	RoomID uuid.UUID `json:"roomId"`
	Text   string    `json:"text"`
}

type sendPrivateMessagePayload struct {
	RecipientID uuid.UUID `json:"recipientId"`
	RoomID      uuid.UUID `json:"roomId"`
	Text        string    `json:"text"`
}

type getMessagesPayload struct {
	RoomID uuid.UUID  `json:"roomId"`
	Before *time.Time `json:"before,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

type messageDeliveredPayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type getRoomsPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type startPrivateChatPayload struct {
	TargetUserID uuid.UUID `json:"targetUserId"`
	UserID       uuid.UUID `json:"userId"`
}

type createGroupPayload struct {
	Name      string      `json:"name"`
	MemberIDs []uuid.UUID `json:"memberIds"`
	CreatedBy uuid.UUID   `json:"createdBy"`
}

type setRTPCapabilitiesPayload struct {
	RoomID          uuid.UUID           `json:"roomId"`
	RTPCapabilities sfu.RTPCapabilities `json:"rtpCapabilities"`
}

type createTransportPayload struct {
	RoomID    uuid.UUID    `json:"roomId"`
	Direction sfu.Direction `json:"direction"`
}

// connectTransportPayload's DTLSParameters names the field spec.md §6
// calls for; this transport negotiates over raw SDP rather than
// mediasoup-style ICE/DTLS parameters (see internal/sfu.TransportParams),
// so the field carries the client's SDP answer as text.
type connectTransportPayload struct {
	RoomID        uuid.UUID `json:"roomId"`
	TransportID   uuid.UUID `json:"transportId"`
	DTLSParameters string   `json:"dtlsParameters"`
}

type producePayload struct {
	RoomID      uuid.UUID `json:"roomId"`
	TransportID uuid.UUID `json:"transportId"`
	Kind        sfu.Kind  `json:"kind"`
}

type consumePayload struct {
	RoomID     uuid.UUID `json:"roomId"`
	ProducerID uuid.UUID `json:"producerId"`
}

type resumeConsumerPayload struct {
	RoomID     uuid.UUID `json:"roomId"`
	ConsumerID uuid.UUID `json:"consumerId"`
}

type callUserPayload struct {
	To      uuid.UUID   `json:"to"`
	RoomID  uuid.UUID   `json:"roomId"`
	Signal  interface{} `json:"signal"`
	IsVideo bool        `json:"isVideo"`
}

type answerCallPayload struct {
	To     uuid.UUID   `json:"to"`
	RoomID uuid.UUID   `json:"roomId"`
	Signal interface{} `json:"signal"`
}

type callTargetPayload struct {
	To     uuid.UUID `json:"to"`
	RoomID uuid.UUID `json:"roomId"`
}

type iceCandidatePayload struct {
	To        uuid.UUID   `json:"to"`
	Candidate interface{} `json:"candidate"`
}

type getCallHistoryPayload struct {
	RoomID uuid.UUID `json:"roomId"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type getRecordingsPayload struct {
	CallID uuid.UUID `json:"callId"`
}

// --- outbound payloads unique to this package ---

type userStatusChanged struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Online   bool      `json:"online"`
}

type onlineUser struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

type typingBroadcast struct {
	RoomID   uuid.UUID `json:"roomId"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

type startPrivateChatAck struct {
	Room      domain.Room       `json:"room"`
	OtherUser domain.PublicUser `json:"otherUser"`
	Created   bool              `json:"created"`
}

type createGroupAck struct {
	Room domain.Room `json:"room"`
}

type joinMediaRoomAck struct {
	RouterRTPCapabilities sfu.RTPCapabilities `json:"routerRtpCapabilities"`
}

// createTransportAck mirrors internal/sfu.TransportParams; see
// connectTransportPayload for why this carries SDP rather than separate
// ICE/DTLS parameter objects.
type createTransportAck struct {
	ID  uuid.UUID `json:"id"`
	SDP string    `json:"sdp"`
}
