package sendemail

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var ErrNoRecipient = errors.New("email recipient is required")

// Email is one outgoing single-recipient message.
type Email struct {
	ToEmail   string
	ToName    string
	Subject   string
	PlainText string
	HTML      string
}

type EmailService interface {
	SendEmail(ctx context.Context, email Email) error
}

type emailService struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewEmailService(apiKey, senderEmail, senderName string) EmailService {
	return &emailService{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(senderName, senderEmail),
	}
}

func (e *emailService) SendEmail(ctx context.Context, email Email) error {
	if email.ToEmail == "" {
		return ErrNoRecipient
	}
	to := mail.NewEmail(email.ToName, email.ToEmail)
	message := mail.NewSingleEmail(e.from, email.Subject, to, email.PlainText, email.HTML)

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("failed to send email: status %d", response.StatusCode)
	}
	return nil
}
