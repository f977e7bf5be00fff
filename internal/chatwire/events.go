// Package chatwire defines the event names and payload shapes shared by the
// customer chat client and the chat server's websocket hub. Every event is
// scoped by a conversation id.
package chatwire

import "encoding/json"

// Customer -> server.
const (
	EventJoinChat           = "join_chat"
	EventSendMessage        = "send_message"
	EventTyping             = "typing"
	EventStopTyping         = "stop_typing"
	EventMarkMessagesRead   = "mark_messages_read"
	EventResolvedByCustomer = "chat_resolved_by_customer"
)

// Server -> customer.
const (
	EventNewMessage             = "new_message"
	EventUserTyping             = "user_typing"
	EventUserStoppedTyping      = "user_stopped_typing"
	EventMessagesReadByAdmin    = "messages_read_by_admin"
	EventMessagesReadByCustomer = "messages_read_by_customer"
	EventChatStatusUpdate       = "chat_status_update"
)

const (
	SenderCustomer = "customer"
	SenderAdmin    = "admin"
)

// Envelope frames every websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a framed event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: b}, nil
}

type JoinChat struct {
	ConversationID string `json:"conversation_id"`
	IsAdmin        bool   `json:"is_admin"`
}

type SendMessage struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Sender         string `json:"sender"`
	UserID         string `json:"user_id"`
	CustomerName   string `json:"customer_name"`
}

type Typing struct {
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
}

type MarkMessagesRead struct {
	ConversationID string   `json:"conversation_id"`
	ReaderType     string   `json:"reader_type"`
	MessageIDs     []string `json:"message_ids"`
}

type Resolved struct {
	ConversationID string `json:"conversation_id"`
	ResolvedBy     string `json:"resolved_by"`
}

type NewMessage struct {
	ConversationID string `json:"conversation_id"`
	ID             string `json:"id"`
	Content        string `json:"content"`
	Sender         string `json:"sender"`
	Timestamp      string `json:"timestamp"`
	ReadByCustomer bool   `json:"read_by_customer"`
}

type MessagesRead struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

type ChatStatusUpdate struct {
	ConversationID string `json:"conversation_id"`
	NewStatus      string `json:"new_status"`
}

const StatusResolved = "resolved"
