package support

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/soletrade/livechat/internal/common"
)

var (
	ErrEmptyMessage = errors.New("support: empty message content")
	ErrResolved     = errors.New("support: conversation already resolved")
)

type Service struct {
	repo *Repo
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

// StartOrResume returns the customer's open conversation with its history,
// creating a fresh conversation when none is open. A resolved conversation is
// never resumed.
func (s *Service) StartOrResume(ctx context.Context, customerID, name, email, phone string) (*Conversation, []ChatMessage, error) {
	existing, err := s.repo.FindOpenByCustomer(ctx, customerID)
	if err == nil {
		history, err := s.repo.ListMessages(ctx, existing.ID)
		if err != nil {
			return nil, nil, err
		}
		return existing, history, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, nil, err
	}
	conv := &Conversation{
		ID:            id,
		CustomerID:    customerID,
		CustomerName:  name,
		CustomerEmail: email,
		CustomerPhone: phone,
		Status:        StatusOpen,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, nil, err
	}
	return conv, nil, nil
}

// AppendMessage stores one message in an open conversation. Messages from the
// sender are stored as already read by that side.
func (s *Service) AppendMessage(ctx context.Context, conversationID, sender, content string) (*ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != StatusOpen {
		return nil, ErrResolved
	}

	msg := &ChatMessage{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		ReadByCustomer: sender == "customer",
		ReadByAdmin:    sender == "admin",
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) MarkRead(ctx context.Context, conversationID string, ids []uint64, readerType string) error {
	return s.repo.MarkMessagesRead(ctx, conversationID, ids, readerType)
}

// Resolve ends a conversation. Resolving an already-resolved conversation is
// a no-op; a missing conversation is an error.
func (s *Service) Resolve(ctx context.Context, conversationID, resolvedBy string) error {
	affected, err := s.repo.ResolveConversation(ctx, conversationID, resolvedBy)
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) History(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, conversationID)
}

func (s *Service) CreateAlertJob(ctx context.Context, conversationID string, messageID uint64) (*AlertJob, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	job := &AlertJob{
		ID:             id,
		ConversationID: conversationID,
		MessageID:      messageID,
		Status:         JobQueued,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*AlertJob, error) {
	return s.repo.GetJobByID(ctx, jobID)
}
