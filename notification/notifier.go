package notification

import (
	"context"
)

//go:generate mockgen -source=notifier.go -destination=notifier_mock.go -package=notification

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Notifier delivers customer and supplier messages. Implementations may be remote and slow;
// callers go through Dispatcher so failures never fail the business operation.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string, attachments []Attachment) error
	SendSMS(ctx context.Context, to, message string) error
}
