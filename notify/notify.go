// Package notify delivers best-effort user notifications after workflow
// transitions commit. Delivery failures are logged and never surfaced to the
// caller; the outbox carries the durable copy.
package notify

import (
	"context"
	"log"
)

// Notifier pushes a single notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]any) error
}

// LogNotifier writes notifications to the process log. Stands in for a real
// push/email channel; the outbox worker handles durable delivery.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID, kind string, payload map[string]any) error {
	n.logger.Printf("notify: user=%s kind=%s payload=%v", userID, kind, payload)
	return nil
}

// Dispatch fans a notification out to each recipient, swallowing errors and
// panics. Called after commit: the state transition already happened, so a
// broken channel must not unwind it.
func Dispatch(ctx context.Context, n Notifier, kind string, payload map[string]any, recipients ...string) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("notify: dispatch panic recovered: %v", r)
		}
	}()
	for _, userID := range recipients {
		if userID == "" {
			continue
		}
		if err := n.Notify(ctx, userID, kind, payload); err != nil {
			log.Printf("notify: deliver %s to %s: %v", kind, userID, err)
		}
	}
}
