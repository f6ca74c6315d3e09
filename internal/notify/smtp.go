package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

// SMTPSink delivers messages through a mail relay.
type SMTPSink struct {
	Addr     string // host:port
	Username string
	Password string

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSink creates a sink for the relay at addr. Credentials are optional.
func NewSMTPSink(addr, username, password string) *SMTPSink {
	return &SMTPSink{Addr: addr, Username: username, Password: password, send: smtp.SendMail}
}

// Send delivers msg. Bcc recipients receive the mail but are not listed in headers.
func (s *SMTPSink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recipients := msg.Recipients()
	if len(recipients) == 0 {
		return fmt.Errorf("smtp: message has no recipients")
	}

	body, err := buildMIME(msg, time.Now())
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.Username != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			return fmt.Errorf("smtp addr: %w", err)
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	send := s.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(s.Addr, auth, msg.From, recipients, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// buildMIME encodes msg as a multipart/alternative mail with text and HTML parts.
func buildMIME(msg Message, date time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		header("Cc", strings.Join(msg.Cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("mime part: %w", err)
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("mime close: %w", err)
	}
	return buf.Bytes(), nil
}
