// Package notify delivers participant and manager notifications. Delivery is
// best effort and at most once: sweep callers record a sent marker before
// calling Send, so a crash between the two loses a notification rather than
// duplicating it, and a failed Send is not retried for the same marker.
package notify

import (
	"context"
	"fmt"
	"strings"

	"adherence/internal/config"
)

type Event string

const (
	EventIntakeReminder  Event = "intake_reminder"
	EventLateStrike      Event = "late_strike"
	EventMissedDay       Event = "missed_day"
	EventReviewEscalated Event = "review_escalated"
	EventReshootExpired  Event = "reshoot_expired"
	EventRemoved         Event = "removed"
	EventAppealOpened    Event = "appeal_opened"
	EventAppealApproved  Event = "appeal_approved"
	EventAppealDeclined  Event = "appeal_declined"
	EventAppealExpired   Event = "appeal_expired"
	EventCompleted       Event = "completed"
)

// Message is a single notification. To is an email address for the SMTP
// backend; the webhook backend forwards the whole message and lets the
// receiving system route it.
type Message struct {
	Event    Event             `json:"event"`
	To       string            `json:"to"`
	CourseID string            `json:"course_id"`
	UserID   string            `json:"user_id,omitempty"`
	Day      int               `json:"day,omitempty"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Meta     map[string]string `json:"meta,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the delivery backend from config. The log backend is the
// default and is what tests and local runs use.
func New(cfg config.Config) (Notifier, error) {
	switch cfg.NotifierBackend {
	case "webhook":
		return NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookToken, cfg.NotifierTimeout), nil
	case "smtp":
		return &SMTPNotifier{
			Addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
			Host: cfg.SMTPHost,
			From: cfg.SMTPFrom,
		}, nil
	case "log":
		return LogNotifier{}, nil
	default:
		return nil, fmt.Errorf("unknown notifier backend %q", cfg.NotifierBackend)
	}
}

// Compose fills Subject and Body for the standard events when the caller has
// not set them. Day is 1-based.
func Compose(msg *Message) {
	if msg.Subject != "" {
		return
	}
	switch msg.Event {
	case EventIntakeReminder:
		msg.Subject = fmt.Sprintf("Intake reminder: day %d", msg.Day)
		msg.Body = fmt.Sprintf("Your day %d intake window opens soon. Submit your photo once you have taken the dose.", msg.Day)
	case EventLateStrike:
		msg.Subject = fmt.Sprintf("Late intake recorded for day %d", msg.Day)
		msg.Body = fmt.Sprintf("Day %d was submitted after the on-time window. A strike has been recorded on your course.", msg.Day)
	case EventMissedDay:
		msg.Subject = fmt.Sprintf("Missed intake: day %d", msg.Day)
		msg.Body = fmt.Sprintf("No submission was received for day %d before the cutoff. The day is recorded as missed and a strike was added.", msg.Day)
	case EventReviewEscalated:
		msg.Subject = fmt.Sprintf("Review overdue: day %d", msg.Day)
		msg.Body = fmt.Sprintf("A day %d submission has been waiting for manual review past the service window.", msg.Day)
	case EventReshootExpired:
		msg.Subject = fmt.Sprintf("Reshoot window closed for day %d", msg.Day)
		msg.Body = fmt.Sprintf("The reshoot window for day %d closed without a new submission. The day is recorded as missed.", msg.Day)
	case EventRemoved:
		reason := msg.Meta["reason"]
		msg.Subject = "You have been removed from the program"
		msg.Body = fmt.Sprintf("Your course was closed (%s). If an appeal is available it must be submitted within the stated window.", reason)
	case EventAppealOpened:
		msg.Subject = "Appeal window opened"
		msg.Body = "Your removal is eligible for appeal. Submit your supporting video before the deadline shown in the app."
	case EventAppealApproved:
		msg.Subject = "Appeal approved"
		msg.Body = "Your appeal was approved and your course is active again. Missed days are not restored."
	case EventAppealDeclined:
		msg.Subject = "Appeal declined"
		msg.Body = "Your appeal was reviewed and declined. The course is closed."
	case EventAppealExpired:
		msg.Subject = "Appeal window expired"
		msg.Body = "No appeal was received before the deadline. The course is closed."
	case EventCompleted:
		msg.Subject = "Course completed"
		msg.Body = "You have completed the full program. Final paperwork will follow."
	default:
		msg.Subject = string(msg.Event)
	}
}

func (m Message) validate() error {
	if m.Event == "" {
		return fmt.Errorf("notify: event is required")
	}
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("notify: recipient is required")
	}
	return nil
}
