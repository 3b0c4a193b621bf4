// Package notify sends best-effort confirmation mail. Failures are logged
// and swallowed; they never affect the attendance write that triggered them.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"qrattend/internal/metrics"
)

// Mailer sends plain-text mail over SMTP with AUTH PLAIN.
type Mailer struct {
	host     string
	port     int
	user     string
	password string
	from     string
}

// NewMailer builds a mailer. An empty host disables sending.
func NewMailer(host string, port int, user, password, from string) *Mailer {
	return &Mailer{host: host, port: port, user: user, password: password, from: from}
}

// Enabled reports whether SMTP is configured.
func (m *Mailer) Enabled() bool {
	return m != nil && m.host != ""
}

// Send delivers a single message.
func (m *Mailer) Send(to, subject, body string) error {
	if !m.Enabled() {
		return fmt.Errorf("smtp not configured")
	}
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg)); err != nil {
		metrics.MailsSent.WithLabelValues("failed").Inc()
		return err
	}
	metrics.MailsSent.WithLabelValues("sent").Inc()
	return nil
}

// ConfirmationBody renders the attendance confirmation text.
func ConfirmationBody(name, subject, when string) string {
	return fmt.Sprintf("Hello %s,\n\nYour attendance for %s was recorded at %s.\n", name, subject, when)
}
