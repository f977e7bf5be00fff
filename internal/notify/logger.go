package notify

import (
	"context"
	"log"
)

// LogNotifier writes alerts to the process log. The default when no webhook
// is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, alert Alert) error {
	_ = ctx
	log.Printf("alert: conversation=%s message=%d customer=%q content=%q",
		alert.ConversationID, alert.MessageID, alert.CustomerName, alert.Content)
	return nil
}
