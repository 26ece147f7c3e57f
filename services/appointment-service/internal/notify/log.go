package notify

import (
	"context"
	"log/slog"
)

// LogDispatcher only logs. Used for local runs without a broker or gateway.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (l *LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification", "user_id", n.UserID, "title", n.Title, "tag", n.Tag, "deep_link", n.DeepLink)
	return nil
}
