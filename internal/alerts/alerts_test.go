package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/internal/common"
)

type flakyNotifier struct {
	mu      sync.Mutex
	failFor map[string]bool
	sent    []string
}

func (n *flakyNotifier) Channel() string { return "webhook" }

func (n *flakyNotifier) Send(_ context.Context, alert Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[alert.Recipient] {
		return errors.New("connection refused")
	}
	n.sent = append(n.sent, alert.Recipient)
	return nil
}

func TestDispatcherReportsPerRecipient(t *testing.T) {
	n := &flakyNotifier{failFor: map[string]bool{"https://b.example/hook": true}}
	d := NewDispatcher(slog.Default(), n)

	results := d.Dispatch(context.Background(), "webhook",
		[]string{"https://a.example/hook", "https://b.example/hook", "https://c.example/hook"},
		Alert{SubmissionID: "s-1", Urgency: "critical", Subject: "check"},
	)

	require.Len(t, results, 3)
	require.True(t, results[0].Delivered)
	require.False(t, results[1].Delivered)
	require.Contains(t, results[1].Error, "connection refused")
	require.True(t, results[2].Delivered)

	// One bad recipient never blocks the others.
	require.Equal(t, []string{"https://a.example/hook", "https://c.example/hook"}, n.sent)
}

func TestDispatcherUnknownChannel(t *testing.T) {
	d := NewDispatcher(slog.Default())
	results := d.Dispatch(context.Background(), "pager", []string{"x", "y"}, Alert{})
	require.Len(t, results, 2)
	for _, r := range results {
		require.False(t, r.Delivered)
		require.Contains(t, r.Error, "unknown alert channel")
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(2 * time.Second)
	err := n.Send(context.Background(), Alert{
		SubmissionID: "s-9",
		Urgency:      "warning",
		Subject:      "deadline detected",
		Recipient:    srv.URL,
	})
	require.NoError(t, err)
	require.Equal(t, "s-9", got.SubmissionID)
	require.Equal(t, "warning", got.Urgency)
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(2 * time.Second)
	err := n.Send(context.Background(), Alert{Recipient: srv.URL})
	require.ErrorContains(t, err, "502")
}

func TestSMTPNotifierBuildsMessage(t *testing.T) {
	var gotTo []string
	var gotMsg []byte
	n := NewSMTPNotifier(common.AlertsConfig{
		SMTPAddr: "mail.example:25",
		SMTPFrom: "alerts@tenderflow.local",
	})
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = msg
		return nil
	}

	err := n.Send(context.Background(), Alert{
		Recipient: "ops@example.kz",
		Urgency:   "critical",
		Subject:   "amount exceeds threshold",
		Body:      "Submission s-1 triggered 1 rule(s)",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ops@example.kz"}, gotTo)
	require.Contains(t, string(gotMsg), "Subject: [CRITICAL] amount exceeds threshold")
	require.Contains(t, string(gotMsg), "Submission s-1")
}

func TestSMTPNotifierUnconfigured(t *testing.T) {
	n := NewSMTPNotifier(common.AlertsConfig{})
	err := n.Send(context.Background(), Alert{Recipient: "ops@example.kz"})
	require.ErrorContains(t, err, "not configured")
}
