package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() Report {
	return Report{
		Subject:   "Relatório harvesting dados.gov - DGT.",
		Harvester: "DGT",
		Server:    "dados.gov.pt",
		Datasets: []ReportDataset{
			{ID: "ds-1", RemoteID: "uuid-1", Title: "Cartas <militares>"},
			{ID: "ds-2", RemoteID: "uuid-2", Title: "Ortofotos"},
		},
	}
}

func TestRender(t *testing.T) {
	text, html, err := Render(sampleReport())
	require.NoError(t, err)

	assert.Contains(t, html, "Cartas &lt;militares&gt;", "titles are escaped")
	assert.Contains(t, html, `href="https://dados.gov.pt/datasets/ds-2"`)

	lines := strings.Split(text, "\n")
	assert.Equal(t, "Relatório harvesting dados.gov - DGT.", lines[0])
	assert.Contains(t, lines, "- Cartas <militares> <https://dados.gov.pt/datasets/ds-1> (uuid-1)")
	assert.Contains(t, lines, "- Ortofotos <https://dados.gov.pt/datasets/ds-2> (uuid-2)")
}

func TestExtractText_SkipsScripts(t *testing.T) {
	got := ExtractText(`<html><head><title>x</title></head><body><p>Hello   <b>world</b></p><script>alert(1)</script><div>bye</div></body></html>`)
	assert.Equal(t, "Hello world\nbye", got)
}

func TestMessageRecipients(t *testing.T) {
	m := Message{To: []string{"a@x"}, Cc: []string{"ops@x"}, Bcc: []string{"root@x"}}
	assert.Equal(t, []string{"a@x", "ops@x", "root@x"}, m.Recipients())
}

func TestWebhookSink(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	t.Setenv("HARVEST_WEBHOOK_TOKEN", "tok")
	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), Message{Subject: "s", From: "ops@x", To: []string{"a@x"}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "harvest.stale_datasets", got.Event)
	assert.Equal(t, "s", got.Message.Subject)
}

func TestWebhookSink_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad payload"}}`))
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL).Send(context.Background(), Message{})
	assert.ErrorContains(t, err, "webhook error (status 400): bad payload")
}

func TestSMTPSink(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sink := NewSMTPSink("mail.example.org:587", "user", "pass")
	sink.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	msg := Message{
		Subject: "Relatório",
		From:    "ops@x",
		To:      []string{"admin@org"},
		Cc:      []string{"ops@x"},
		Bcc:     []string{"root@x"},
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	}
	require.NoError(t, sink.Send(context.Background(), msg))

	assert.Equal(t, "mail.example.org:587", gotAddr)
	assert.Equal(t, "ops@x", gotFrom)
	assert.Equal(t, []string{"admin@org", "ops@x", "root@x"}, gotTo)

	raw := string(gotMsg)
	assert.Contains(t, raw, "To: admin@org\r\n")
	assert.Contains(t, raw, "Cc: ops@x\r\n")
	assert.NotContains(t, raw, "root@x", "bcc stays out of headers")
	assert.Contains(t, raw, "Subject: =?utf-8?q?Relat=C3=B3rio?=")
	assert.Contains(t, raw, "plain body")
	assert.Contains(t, raw, "<p>html body</p>")
}

func TestSMTPSink_NoRecipients(t *testing.T) {
	err := NewSMTPSink("localhost:25", "", "").Send(context.Background(), Message{From: "ops@x"})
	assert.ErrorContains(t, err, "no recipients")
}

func TestBuildMIME_Date(t *testing.T) {
	date := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	raw, err := buildMIME(Message{From: "a@x", To: []string{"b@x"}, Subject: "plain"}, date)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Date: Thu, 02 May 2024 10:00:00 +0000\r\n")
	assert.Contains(t, string(raw), "Subject: plain\r\n")
}
