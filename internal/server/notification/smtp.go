package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/grandline/identity/internal/logging"
	"github.com/grandline/identity/internal/server/config"
)

// SMTPNotifier delivers notification mail over SMTP using go-mail.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	sender   string
	codeTTL  time.Duration
	logger   logging.Logger
}

func NewSMTPNotifier(cfg *config.Config, l logging.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		sender:   cfg.SMTPSender,
		codeTTL:  cfg.CodeTTL,
		logger:   l.With("module", "smtp_notifier"),
	}
}

// SendVerificationCode mails the account-activation code to the login
// identifier's inbox.
func (n *SMTPNotifier) SendVerificationCode(ctx context.Context, to, code string) (string, error) {
	body := fmt.Sprintf(
		"<h1>Please activate your account</h1><p><strong>%s</strong> is valid for %d minutes.</p>",
		code, int(n.codeTTL.Minutes()))
	return n.send(ctx, to, "Confirm your account", body)
}

// SendPasswordReset mails a temporary credential after a password reset
// request.
func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, to, tempPassword string) (string, error) {
	body := fmt.Sprintf(
		"<h1>Password reset</h1><p>Your temporary password is <strong>%s</strong>. Use it to sign in and pick a new one.</p>",
		tempPassword)
	return n.send(ctx, to, "Password reset", body)
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, body string) (string, error) {
	msg, messageID, err := buildMessage(n.sender, to, subject, body)
	if err != nil {
		return "", fmt.Errorf("building message: %w", err)
	}

	opts := []mail.Option{mail.WithPort(n.port), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if n.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.username),
			mail.WithPassword(n.password))
	}

	client, err := mail.NewClient(n.host, opts...)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("sending mail: %w", err)
	}

	n.logger.Info(ctx, "mail dispatched", "to", to, "message_id", messageID)
	return messageID, nil
}

// buildMessage assembles the MIME message and assigns it a message id that
// callers can hand back as a delivery receipt.
func buildMessage(from, to, subject, body string) (*mail.Msg, string, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, "", err
	}
	if err := msg.To(to); err != nil {
		return nil, "", err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	messageID := uuid.NewString()
	msg.SetMessageIDWithValue(messageID)

	return msg, messageID, nil
}
