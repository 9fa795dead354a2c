package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/smtp"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"adherence/internal/httpx"
)

// LogNotifier writes notifications to the process log. Default backend.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, msg Message) error {
	_ = ctx
	if err := msg.validate(); err != nil {
		return err
	}
	Compose(&msg)
	log.Printf("notify event=%s to=%s course=%s day=%d subject=%q", msg.Event, msg.To, msg.CourseID, msg.Day, msg.Subject)
	return nil
}

// WebhookNotifier POSTs messages as JSON to an external dispatch service.
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
	retry  httpx.Retry
}

func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
		retry:  httpx.Defaults(),
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	Compose(&msg)
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, _, err = httpx.Do(ctx, n.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if n.token != "" {
			req.Header.Set("Authorization", "Bearer "+n.token)
		}
		return req, nil
	}, n.retry)
	return err
}

// SMTPNotifier delivers notifications as plain-text email.
type SMTPNotifier struct {
	Addr string // host:port
	Host string
	From string
	Auth smtp.Auth

	// sendMail is swappable in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	_ = ctx
	if err := msg.validate(); err != nil {
		return err
	}
	Compose(&msg)
	raw, err := composeMIME(n.From, msg)
	if err != nil {
		return err
	}
	send := n.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	return send(n.Addr, n.Auth, n.From, []string{msg.To}, raw)
}

func composeMIME(from string, msg Message) ([]byte, error) {
	var buf bytes.Buffer

	var h gomail.Header
	h.SetDate(time.Now().UTC())
	h.SetAddressList("From", []*gomail.Address{{Address: from}})
	h.SetAddressList("To", []*gomail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
