package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/soletrade/livechat/internal/chatwire"
	"github.com/soletrade/livechat/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the chat widget is embedded in storefront pages on other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ChatSocket upgrades the connection and runs the event loop for one client.
func (h *Handler) ChatSocket(c *gin.Context) {
	role := c.Query("role")
	if role != chatwire.SenderAdmin {
		role = chatwire.SenderCustomer
	}
	userID := c.Query("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ChatSocket] upgrade failed: %v", err)
		return
	}

	client := realtime.NewClient(role, 64)
	sock := &chatSocket{h: h, conn: conn, client: client, userID: userID}

	go sock.writePump()
	sock.readLoop(c.Request.Context())
}

type chatSocket struct {
	h      *Handler
	conn   *websocket.Conn
	client *realtime.Client
	userID string

	// conversationID is set by join_chat; inbound events for any other
	// conversation are ignored.
	conversationID string
}

func (s *chatSocket) readLoop(ctx context.Context) {
	defer func() {
		s.h.Hub.Leave(s.client)
		s.client.Close()
		_ = s.conn.Close()
	}()

	for {
		var env chatwire.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ChatSocket] read failed role=%s err=%v", s.client.Role, err)
			}
			return
		}
		s.handleEvent(ctx, env)
	}
}

func (s *chatSocket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-s.client.Send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				s.client.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.client.Close()
				return
			}
		case <-s.client.Done():
			deadline := time.Now().Add(writeWait)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (s *chatSocket) handleEvent(ctx context.Context, env chatwire.Envelope) {
	switch env.Event {
	case chatwire.EventJoinChat:
		var p chatwire.JoinChat
		if !s.decode(env, &p) {
			return
		}
		s.conversationID = p.ConversationID
		s.h.Hub.Join(p.ConversationID, s.client)
		if s.client.Role == chatwire.SenderAdmin && s.h.Presence != nil && s.userID != "" {
			if err := s.h.Presence.SetAgentOnline(ctx, s.userID); err != nil {
				log.Printf("[ChatSocket] presence refresh failed agent=%s err=%v", s.userID, err)
			}
		}

	case chatwire.EventSendMessage:
		var p chatwire.SendMessage
		if !s.decode(env, &p) {
			return
		}
		if p.ConversationID != s.conversationID {
			return
		}
		s.handleSendMessage(ctx, p)

	case chatwire.EventTyping:
		s.relayTyping(env, chatwire.EventUserTyping)

	case chatwire.EventStopTyping:
		s.relayTyping(env, chatwire.EventUserStoppedTyping)

	case chatwire.EventMarkMessagesRead:
		var p chatwire.MarkMessagesRead
		if !s.decode(env, &p) {
			return
		}
		if p.ConversationID != s.conversationID {
			return
		}
		s.handleMarkRead(ctx, p)

	case chatwire.EventResolvedByCustomer:
		var p chatwire.Resolved
		if !s.decode(env, &p) {
			return
		}
		if p.ConversationID != s.conversationID {
			return
		}
		if err := s.h.Svc.Resolve(ctx, p.ConversationID, p.ResolvedBy); err != nil {
			log.Printf("[ChatSocket] resolve failed conversation=%s err=%v", p.ConversationID, err)
			return
		}
		s.broadcast(p.ConversationID, chatwire.EventChatStatusUpdate, chatwire.ChatStatusUpdate{
			ConversationID: p.ConversationID,
			NewStatus:      chatwire.StatusResolved,
		})
	}
}

func (s *chatSocket) handleSendMessage(ctx context.Context, p chatwire.SendMessage) {
	msg, err := s.h.Svc.AppendMessage(ctx, p.ConversationID, p.Sender, p.Content)
	if err != nil {
		log.Printf("[ChatSocket] append failed conversation=%s err=%v", p.ConversationID, err)
		return
	}

	// the sender already shows the message optimistically; only the other
	// side of the room gets the echo
	s.broadcast(p.ConversationID, chatwire.EventNewMessage, chatwire.NewMessage{
		ConversationID: p.ConversationID,
		ID:             strconv.FormatUint(msg.ID, 10),
		Content:        msg.Content,
		Sender:         msg.Sender,
		Timestamp:      msg.CreatedAt.Format(time.RFC3339),
		ReadByCustomer: msg.ReadByCustomer,
	})

	if p.Sender == chatwire.SenderCustomer && !s.h.Hub.HasRole(p.ConversationID, chatwire.SenderAdmin) {
		s.enqueueAlert(ctx, p, msg.ID)
	}
}

func (s *chatSocket) enqueueAlert(ctx context.Context, p chatwire.SendMessage, messageID uint64) {
	if s.h.Rabbit == nil {
		return
	}
	job, err := s.h.Svc.CreateAlertJob(ctx, p.ConversationID, messageID)
	if err != nil {
		log.Printf("[ChatSocket] alert job failed conversation=%s err=%v", p.ConversationID, err)
		return
	}
	if err := s.h.Rabbit.PublishAlert(ctx, job.ID); err != nil {
		log.Printf("[ChatSocket] alert publish failed job=%s err=%v", job.ID, err)
	}
}

func (s *chatSocket) handleMarkRead(ctx context.Context, p chatwire.MarkMessagesRead) {
	ids := make([]uint64, 0, len(p.MessageIDs))
	for _, raw := range p.MessageIDs {
		// optimistic placeholder ids never reach the store
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	if err := s.h.Svc.MarkRead(ctx, p.ConversationID, ids, p.ReaderType); err != nil {
		log.Printf("[ChatSocket] mark read failed conversation=%s err=%v", p.ConversationID, err)
		return
	}

	event := chatwire.EventMessagesReadByCustomer
	if p.ReaderType == chatwire.SenderAdmin {
		event = chatwire.EventMessagesReadByAdmin
	}
	s.broadcast(p.ConversationID, event, chatwire.MessagesRead{
		ConversationID: p.ConversationID,
		MessageIDs:     p.MessageIDs,
	})
}

func (s *chatSocket) relayTyping(env chatwire.Envelope, outEvent string) {
	var p chatwire.Typing
	if !s.decode(env, &p) {
		return
	}
	if p.ConversationID != s.conversationID {
		return
	}
	s.broadcast(p.ConversationID, outEvent, p)
}

func (s *chatSocket) broadcast(conversationID, event string, payload any) {
	env, err := chatwire.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("[ChatSocket] envelope %s: %v", event, err)
		return
	}
	s.h.Hub.Broadcast(conversationID, s.client, env)
}

func (s *chatSocket) decode(env chatwire.Envelope, dst any) bool {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		log.Printf("[ChatSocket] malformed %s event: %v", env.Event, err)
		return false
	}
	return true
}
