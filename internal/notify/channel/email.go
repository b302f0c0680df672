package channel

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
)

// Email delivers the rendered text over SMTP, per spec §4.5 step 2
// ("Email: SMTP"). No SMTP client library appears anywhere in the
// retrieved corpus, so the stdlib net/smtp is used directly, matching
// the Design Note that ambient concerns the corpus itself implements
// on the standard library stay on the standard library.
type Email struct {
	// dial is overridden in tests to avoid a live SMTP connection.
	dial func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ Channel = (*Email)(nil)

func NewEmail() *Email {
	return &Email{dial: smtp.SendMail}
}

func (e *Email) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered Rendered) error {
	if trigger.SMTPHost == "" || trigger.From == "" || len(trigger.To) == 0 {
		return fmt.Errorf("email trigger %s: smtp_host, from, and to required", trigger.Name)
	}
	port := trigger.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", trigger.SMTPHost, port)

	var auth smtp.Auth
	if trigger.Username != "" {
		auth = smtp.PlainAuth("", trigger.Username, trigger.Password, trigger.SMTPHost)
	}

	msg := buildMessage(trigger.From, trigger.To, match.MonitorName, rendered.Text)

	if err := e.dial(addr, auth, trigger.From, trigger.To, msg); err != nil {
		// DNS/connection-refused/server-busy failures surface here as
		// plain errors from net/smtp; without a status code to inspect
		// they are treated as transient per spec §7's "RPC timeout,
		// connection refused" case, generalized to SMTP delivery.
		return Transient(fmt.Errorf("smtp send: %w", err))
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: watch-tower alert: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
