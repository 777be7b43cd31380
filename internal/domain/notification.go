package domain

import (
	"context"
	"time"
)

// NotificationType classifies outbound notifications.
type NotificationType string

const (
	NotifyCheckedIn       NotificationType = "checked_in"
	NotifyCheckedOut      NotificationType = "checked_out"
	NotifyWarning         NotificationType = "warning"
	NotifyExceededLimit   NotificationType = "exceeded_limit"
	NotifyAbsent          NotificationType = "absent"
	NotifyLocationFailure NotificationType = "location_failure"
)

// Notification is a status/alert broadcast emitted by the engine. Delivery
// mechanics (push, toast, websocket) live behind NotificationSink.
type Notification struct {
	Type      NotificationType `json:"type"`
	UserID    string           `json:"user_id"`
	EventID   string           `json:"event_id"`
	RecordID  string           `json:"record_id,omitempty"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationSink receives engine notifications. Implementations must not
// block transition application; failures are logged, never propagated back
// into the state machine.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// Mailer defines the contract for sending emails (infrastructure port).
type Mailer interface {
	Send(to, subject, html, text string) error
}

// EmailTemplateRenderer renders a named email template with data and returns
// the subject, HTML body and text body.
type EmailTemplateRenderer interface {
	Render(templateName string, data any) (subject, htmlBody, textBody string, err error)
}
