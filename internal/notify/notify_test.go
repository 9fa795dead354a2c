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
)

func TestComposeFillsStandardEvents(t *testing.T) {
	msg := Message{Event: EventMissedDay, To: "u@example.com", Day: 5}
	Compose(&msg)
	if msg.Subject == "" || !strings.Contains(msg.Subject, "day 5") {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "missed") {
		t.Fatalf("body = %q", msg.Body)
	}
}

func TestComposeKeepsCallerSubject(t *testing.T) {
	msg := Message{Event: EventRemoved, To: "u@example.com", Subject: "custom"}
	Compose(&msg)
	if msg.Subject != "custom" {
		t.Fatalf("subject = %q", msg.Subject)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "hook-token", time.Second)
	err := n.Send(context.Background(), Message{
		Event:    EventIntakeReminder,
		To:       "u@example.com",
		CourseID: "c1",
		Day:      3,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer hook-token" {
		t.Fatalf("auth header = %q", auth)
	}
	if got.Event != EventIntakeReminder || got.Day != 3 {
		t.Fatalf("forwarded message = %+v", got)
	}
	if got.Subject == "" {
		t.Fatal("subject should be composed before forwarding")
	}
}

func TestWebhookNotifierRejectsMissingRecipient(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", "", time.Second)
	if err := n.Send(context.Background(), Message{Event: EventCompleted}); err == nil {
		t.Fatal("want error for missing recipient")
	}
}

func TestSMTPNotifierComposesMIME(t *testing.T) {
	var gotFrom string
	var gotTo []string
	var raw []byte
	n := &SMTPNotifier{
		Addr: "mail.example.com:587",
		From: "program@example.com",
		sendMail: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotFrom, gotTo, raw = from, to, msg
			return nil
		},
	}
	err := n.Send(context.Background(), Message{Event: EventCompleted, To: "u@example.com", CourseID: "c1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotFrom != "program@example.com" || len(gotTo) != 1 || gotTo[0] != "u@example.com" {
		t.Fatalf("envelope from=%q to=%v", gotFrom, gotTo)
	}
	s := string(raw)
	if !strings.Contains(s, "Subject: Course completed") {
		t.Fatalf("missing subject header in:\n%s", s)
	}
	if !strings.Contains(s, "completed the full program") {
		t.Fatalf("missing body in:\n%s", s)
	}
}
