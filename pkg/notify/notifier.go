// Package notify delivers out-of-band alerts to users who are not connected
// to the realtime gateway.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const TypeNewMessage = "new-message"

type Notification struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id"`
	Preview   string    `json:"preview"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// LogNotifier writes notifications to the log. Used in development and when
// no delivery backend is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, userID string, n Notification) error {
	l.log.Info().
		Str("user_id", userID).
		Str("type", n.Type).
		Str("room_id", n.RoomID).
		Str("sender_id", n.SenderID).
		Str("preview", n.Preview).
		Msg("notification")
	return nil
}
