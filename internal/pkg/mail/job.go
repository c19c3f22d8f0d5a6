package mail

import (
	"context"

	"github.com/learnhub/core/internal/pkg/taskqueue"
)

// TaskType is the queue type for outgoing mail.
const TaskType = "mail.send"

// TaskHandler delivers queued messages with m.
func TaskHandler(m Mailer) taskqueue.Handler {
	return func(ctx context.Context, task *taskqueue.Task) error {
		var msg Message
		if err := task.Decode(&msg); err != nil {
			return err
		}
		return m.Send(ctx, msg)
	}
}
