package support

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// AlertJob records one "customer is waiting" notification to the support
// team, created when a message arrives with no agent in the room.
type AlertJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	ConversationID string `gorm:"size:26;index;not null"`
	MessageID      uint64 `gorm:"index;not null"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AlertJob) TableName() string { return "chat_alert_jobs" }
