package notify

import (
	"context"
	"fmt"
	"html"

	"marketchat/pkg/sendemail"
	"marketchat/pkg/users"
)

type Directory interface {
	GetUserByUUID(ctx context.Context, uuid string) (users.User, error)
}

// EmailNotifier emails the recipient through SendGrid.
type EmailNotifier struct {
	mailer    sendemail.EmailService
	directory Directory
}

func NewEmailNotifier(mailer sendemail.EmailService, directory Directory) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, directory: directory}
}

func (e *EmailNotifier) Notify(ctx context.Context, userID string, n Notification) error {
	u, err := e.directory.GetUserByUUID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}
	if u.Email == "" {
		return nil
	}

	return e.mailer.SendEmail(ctx, sendemail.Email{
		ToEmail:   u.Email,
		ToName:    u.Name,
		Subject:   "You have a new message",
		PlainText: fmt.Sprintf("New message: %s\n\nOpen the app to reply.", n.Preview),
		HTML:      fmt.Sprintf("<p>New message:</p><blockquote>%s</blockquote><p>Open the app to reply.</p>", html.EscapeString(n.Preview)),
	})
}
