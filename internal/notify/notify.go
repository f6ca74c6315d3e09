// Package notify renders the stale-dataset report and delivers it through
// pluggable sinks (SMTP, JSON webhook, log).
package notify

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
)

//go:embed report.html
var reportHTML string

var reportTemplate = htmltemplate.Must(htmltemplate.New("report").Parse(reportHTML))

// Message is one outgoing notification.
type Message struct {
	Subject string   `json:"subject"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// Recipients returns every address the message must reach.
func (m Message) Recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	all = append(all, m.Bcc...)
	return all
}

// Sink delivers messages. Callers treat delivery as best-effort.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// ReportDataset is one stale dataset listed in a report.
type ReportDataset struct {
	ID       string
	RemoteID string
	Title    string
}

// Report is the payload rendered into the stale-dataset notification.
type Report struct {
	Subject   string
	Harvester string
	Datasets  []ReportDataset
	Server    string
}

// Render produces the HTML body and its plain-text rendition.
func Render(r Report) (text, html string, err error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, r); err != nil {
		return "", "", fmt.Errorf("render report: %w", err)
	}
	html = buf.String()
	return ExtractText(html), html, nil
}

// LogSink writes messages to a logger instead of delivering them.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notify: message",
		"subject", msg.Subject,
		"from", msg.From,
		"to", msg.To,
		"cc", msg.Cc,
		"bcc", len(msg.Bcc),
		"text", msg.Text,
	)
	return nil
}
