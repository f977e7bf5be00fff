package support

import "time"

type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusResolved ConversationStatus = "resolved"
)

type Conversation struct {
	ID            string             `gorm:"primaryKey;size:26" json:"id"` // ULID length
	CustomerID    string             `gorm:"size:64;index;not null" json:"customer_id"`
	CustomerName  string             `gorm:"size:128;not null" json:"customer_name"`
	CustomerEmail string             `gorm:"size:128" json:"customer_email"`
	CustomerPhone string             `gorm:"size:32" json:"customer_phone"`
	Status        ConversationStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	ResolvedBy    *string            `gorm:"type:varchar(16)" json:"resolved_by,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (Conversation) TableName() string { return "chat_conversations" }

type ChatMessage struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"size:26;index;not null" json:"conversation_id"`
	Sender         string    `gorm:"type:varchar(16);not null" json:"sender"` // customer | admin
	Content        string    `gorm:"type:text;not null" json:"content"`
	ReadByCustomer bool      `gorm:"not null;default:false" json:"read_by_customer"`
	ReadByAdmin    bool      `gorm:"not null;default:false" json:"read_by_admin"`
	CreatedAt      time.Time `json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }
