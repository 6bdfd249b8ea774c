package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/gomail.v2"

	"github.com/spec-kit/referral-service/internal/config"
	"github.com/spec-kit/referral-service/internal/domain"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier emails ticket notifications through an SMTP relay.
type SMTPNotifier struct {
	from     string
	sender   mailSender
	renderer *NotesRenderer
}

// NewSMTPNotifier builds a notifier from the notification settings.
func NewSMTPNotifier(cfg config.NotificationConfig) *SMTPNotifier {
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	return newSMTPNotifier(cfg.EmailFrom, dialer)
}

func newSMTPNotifier(from string, sender mailSender) *SMTPNotifier {
	return &SMTPNotifier{from: from, sender: sender, renderer: NewNotesRenderer()}
}

// Notify sends one message per recipient. Every recipient is attempted and
// the failures are combined.
func (n *SMTPNotifier) Notify(ctx context.Context, msg TicketNotification) error {
	if len(msg.Recipients) == 0 {
		return nil
	}
	subject := notificationSubject(msg)
	htmlBody, err := n.htmlBody(msg)
	if err != nil {
		return err
	}
	plainBody := plainTextBody(msg)

	var errs error
	for _, to := range msg.Recipients {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		m := gomail.NewMessage()
		m.SetHeader("From", n.from)
		m.SetHeader("To", to)
		m.SetHeader("Subject", subject)
		m.SetBody("text/plain", plainBody)
		m.AddAlternative("text/html", htmlBody)
		if err := n.sender.DialAndSend(m); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send to %s: %w", to, err))
		}
	}
	return errs
}

func notificationSubject(msg TicketNotification) string {
	switch msg.Action {
	case domain.ActionForwardToAdmin:
		return "Referral returned to the admin pool"
	case domain.ActionAssignContact:
		return "Referral assigned to you"
	}
	return "New referral forwarded to your organization"
}

func (n *SMTPNotifier) htmlBody(msg TicketNotification) (string, error) {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(notificationSubject(msg)))
	fmt.Fprintf(&b, "<p>Ticket <strong>%s</strong></p>", html.EscapeString(msg.TicketID))
	if msg.Reason != nil {
		fmt.Fprintf(&b, "<p>Reason: %s</p>", html.EscapeString(reasonLabel(*msg.Reason)))
	}
	fmt.Fprintf(&b, "<p>Status: %s</p>", html.EscapeString(string(msg.Current.Status)))
	if msg.Notes != nil && *msg.Notes != "" {
		notes, err := n.renderer.Render(*msg.Notes)
		if err != nil {
			return "", err
		}
		b.WriteString("<h3>Notes</h3>")
		b.WriteString(notes)
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func plainTextBody(msg TicketNotification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nTicket %s\n", notificationSubject(msg), msg.TicketID)
	if msg.Reason != nil {
		fmt.Fprintf(&b, "Reason: %s\n", reasonLabel(*msg.Reason))
	}
	fmt.Fprintf(&b, "Status: %s\n", msg.Current.Status)
	if msg.Notes != nil && *msg.Notes != "" {
		fmt.Fprintf(&b, "\nNotes:\n%s\n", *msg.Notes)
	}
	return b.String()
}

func reasonLabel(r domain.ForwardReason) string {
	switch r {
	case domain.ReasonUnableToAssist:
		return "Unable to assist"
	case domain.ReasonWrongOrg:
		return "Wrong organization"
	case domain.ReasonCapacity:
		return "At capacity"
	}
	return "Other"
}
