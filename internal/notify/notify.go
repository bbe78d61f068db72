// Package notify delivers best-effort alarm emails. No mail library appears
// anywhere in the retrieval corpus, so this wraps the standard library's
// net/smtp directly; see DESIGN.md for the justification.
package notify

import (
	"bytes"
	"fmt"
	"log"
	"mime"
	"net/smtp"
	"strings"
)

// Config holds the outgoing mail server settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Attachment is an optional file to include with a notification, such as a
// plot or a history snippet supporting an alarm.
type Attachment struct {
	Filename string
	Content  []byte
	MIMEType string
}

// Notifier sends alarm emails. Send failures are logged and swallowed: a
// broken mail relay must never stall the monitoring pipeline.
type Notifier struct {
	cfg Config
}

// NewNotifier constructs a Notifier from an SMTP configuration.
func NewNotifier(cfg Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// Send delivers subject/body to recipients, with an optional attachment.
// Errors are logged, not returned, matching the pipeline's best-effort
// treatment of every side effect downstream of a detection.
func (n *Notifier) Send(subject, body string, recipients []string, attachment *Attachment) {
	if len(recipients) == 0 {
		return
	}
	if n.cfg.Host == "" {
		log.Printf("notify: no SMTP host configured, dropping alarm email %q", subject)
		return
	}

	msg, err := buildMessage(n.cfg.From, recipients, subject, body, attachment)
	if err != nil {
		log.Printf("notify: building message: %v", err)
		return
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, n.cfg.From, recipients, msg); err != nil {
		log.Printf("notify: sending alarm email %q to %v: %v", subject, recipients, err)
	}
}

func buildMessage(from string, to []string, subject, body string, attachment *Attachment) ([]byte, error) {
	var buf bytes.Buffer
	boundary := "seismic-monitor-boundary"

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	if attachment == nil {
		fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(body)
		return buf.Bytes(), nil
	}

	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", attachment.MIMEType)
	fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", attachment.Filename)
	buf.Write(attachment.Content)
	fmt.Fprintf(&buf, "\r\n--%s--\r\n", boundary)

	return buf.Bytes(), nil
}
