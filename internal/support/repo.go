package support

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOpenByCustomer returns the customer's open conversation, if any.
func (r *Repo) FindOpenByCustomer(ctx context.Context, customerID string) (*Conversation, error) {
	var c Conversation
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, StatusOpen).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveConversation flips an open conversation to resolved. The returned
// count is 0 when the conversation is missing or already resolved.
func (r *Repo) ResolveConversation(ctx context.Context, id, resolvedBy string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ? AND status = ?", id, StatusOpen).
		Updates(map[string]any{
			"status":      StatusResolved,
			"resolved_by": resolvedBy,
		})
	return res.RowsAffected, res.Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *ChatMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns the conversation history in ASC id order.
func (r *Repo) ListMessages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	var msgs []ChatMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkMessagesRead sets the reader's read flag on the given messages.
func (r *Repo) MarkMessagesRead(ctx context.Context, conversationID string, ids []uint64, readerType string) error {
	if len(ids) == 0 {
		return nil
	}
	column := "read_by_customer"
	if readerType == "admin" {
		column = "read_by_admin"
	}
	return r.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("conversation_id = ? AND id IN ?", conversationID, ids).
		Update(column, true).Error
}

// Alert job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *AlertJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*AlertJob, error) {
	var j AlertJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&AlertJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&AlertJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&AlertJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
