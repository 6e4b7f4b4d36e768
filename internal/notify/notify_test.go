package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

type recordingNotifier struct {
	sent []Notification
	err  error
}

func (r *recordingNotifier) Send(n Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

func TestMultiNotifier_SendsToAll(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	m := NewMultiNotifier(a, b)

	if err := m.Send(Notification{Title: "hello"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("sent counts = %d, %d; want 1, 1", len(a.sent), len(b.sent))
	}
}

func TestMultiNotifier_FailureDoesNotBlockOthers(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	m := NewMultiNotifier(failing, ok)

	if err := m.Send(Notification{Title: "hello"}); err == nil {
		t.Error("Send() should surface the failure")
	}
	if len(ok.sent) != 1 {
		t.Error("later notifiers must still receive the notification")
	}
}

func TestSlackColor(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}
	for _, tt := range tests {
		if got := SlackColor(tt.typ); got != tt.want {
			t.Errorf("SlackColor(%d) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var payload SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("payload not valid JSON: %v", err)
		}
	}))
	defer srv.Close()

	n := Notification{
		Title:   "agent stopped: acme/billing#7",
		Message: "reason: completed",
		Type:    NotifySuccess,
		Report: &Report{
			Ref:        domain.IssueRef{Owner: "acme", Repo: "billing", IssueNumber: 7},
			Iteration:  14,
			Confidence: 0.98,
			StopReason: domain.StopCompleted,
		},
	}
	if err := NewSlackNotifier(srv.URL).Send(n); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if payload.Text != n.Title {
		t.Errorf("Text = %q, want %q", payload.Text, n.Title)
	}
	if len(payload.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Color != "good" {
		t.Errorf("Color = %q, want good", att.Color)
	}
	if att.Title != "acme/billing#7" {
		t.Errorf("attachment Title = %q", att.Title)
	}
	if att.Footer != "issue-autopilot" {
		t.Errorf("Footer = %q", att.Footer)
	}
	if !strings.Contains(att.Text, "iteration 14") || !strings.Contains(att.Text, "confidence 0.98") {
		t.Errorf("attachment Text = %q, missing the report detail", att.Text)
	}
	if !strings.Contains(att.Text, "stopped: completed") {
		t.Errorf("attachment Text = %q, missing the stop reason", att.Text)
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewSlackNotifier(srv.URL).Send(Notification{Title: "x"}); err == nil {
		t.Error("non-200 response must error")
	}
}

func TestSlackNotifier_EmptyWebhookDisabled(t *testing.T) {
	if err := NewSlackNotifier("").Send(Notification{Title: "x"}); err != nil {
		t.Errorf("empty webhook should be a no-op, got %v", err)
	}
}
