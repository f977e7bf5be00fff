// Package notify delivers "customer is waiting" alerts to the support team.
package notify

import "context"

// Alert describes one unattended customer message.
type Alert struct {
	ConversationID string `json:"conversation_id"`
	MessageID      uint64 `json:"message_id"`
	CustomerName   string `json:"customer_name"`
	Content        string `json:"content"`
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
