package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/soletrade/livechat/internal/chatwire"
	"github.com/soletrade/livechat/internal/common"
	"github.com/soletrade/livechat/internal/support"
)

func (h *Handler) Ping(c *gin.Context) {
	common.Ok(c, gin.H{"pong": true})
}

type startConversationReq struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

type initialMessage struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	Sender         string `json:"sender"`
	Timestamp      string `json:"timestamp"`
	ReadByCustomer bool   `json:"read_by_customer"`
}

func toInitialMessage(m support.ChatMessage) initialMessage {
	return initialMessage{
		ID:             strconv.FormatUint(m.ID, 10),
		Content:        m.Content,
		Sender:         m.Sender,
		Timestamp:      m.CreatedAt.Format(time.RFC3339),
		ReadByCustomer: m.ReadByCustomer,
	}
}

// StartConversation returns the customer's open conversation with its
// backlog, creating one when none exists.
func (h *Handler) StartConversation(c *gin.Context) {
	var req startConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	conv, history, err := h.Svc.StartOrResume(c.Request.Context(), req.UserID, req.Name, req.Email, req.Phone)
	if err != nil {
		log.Printf("[StartConversation] failed user=%s err=%v", req.UserID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to start conversation")
		return
	}

	initial := make([]initialMessage, 0, len(history))
	for _, m := range history {
		initial = append(initial, toInitialMessage(m))
	}

	common.Ok(c, gin.H{
		"conversation_id":  conv.ID,
		"initial_messages": initial,
	})
}

type resolveReq struct {
	ResolvedBy string `json:"resolved_by"`
}

// ResolveConversation is the request/response fallback for ending a chat, and
// the path the admin dashboard uses. The room is told either way.
func (h *Handler) ResolveConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if conversationID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "conversation id required")
		return
	}

	var req resolveReq
	_ = c.ShouldBindJSON(&req) // allow empty {}
	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = chatwire.SenderCustomer
	}

	if err := h.Svc.Resolve(c.Request.Context(), conversationID, resolvedBy); err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
			return
		}
		log.Printf("[ResolveConversation] failed conversation=%s err=%v", conversationID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to resolve conversation")
		return
	}

	env, err := chatwire.NewEnvelope(chatwire.EventChatStatusUpdate, chatwire.ChatStatusUpdate{
		ConversationID: conversationID,
		NewStatus:      chatwire.StatusResolved,
	})
	if err == nil {
		h.Hub.Broadcast(conversationID, nil, env)
	}

	common.Ok(c, gin.H{"conversation_id": conversationID, "status": "resolved"})
}

func (h *Handler) ListConversationMessages(c *gin.Context) {
	conversationID := c.Param("id")
	if conversationID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "conversation id required")
		return
	}

	msgs, err := h.Svc.History(c.Request.Context(), conversationID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	out := make([]initialMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toInitialMessage(m))
	}
	common.Ok(c, gin.H{"messages": out})
}
