package notification

import (
	"context"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
)

const DefaultSendTimeout = 10 * time.Second

// Dispatcher sends best-effort notifications. Failures are logged as DependencyError and
// reported only through the boolean result.
type Dispatcher struct {
	notifier Notifier
	logger   *logrus.Logger
	region   string
	timeout  time.Duration
}

func NewDispatcher(notifier Notifier, logger *logrus.Logger, region string) *Dispatcher {
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Dispatcher{notifier: notifier, logger: logger, region: region, timeout: DefaultSendTimeout}
}

// sendContext outlives the request so a client disconnect does not drop the message.
func (d *Dispatcher) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
}

func (d *Dispatcher) Email(ctx context.Context, to, subject, body string, attachments ...Attachment) bool {
	if to == "" {
		return false
	}
	if !utils.IsValidEmail(to) {
		d.logger.WithFields(logrus.Fields{"to": to, "subject": subject}).Warn("skipping email to invalid address")
		return false
	}
	ctx, cancel := d.sendContext(ctx)
	defer cancel()
	if err := d.notifier.SendEmail(ctx, to, subject, body, attachments); err != nil {
		d.fail(ctx, "Email", to, &utils.DependencyError{Dependency: "email", Err: err})
		return false
	}
	return true
}

// SMS normalizes the recipient to E.164 before sending.
func (d *Dispatcher) SMS(ctx context.Context, to, message string) bool {
	if to == "" {
		return false
	}
	phone, err := utils.NormalizePhoneNumber(to, d.region)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"to": to, "error": err.Error()}).Warn("skipping sms to invalid number")
		return false
	}
	ctx, cancel := d.sendContext(ctx)
	defer cancel()
	if err := d.notifier.SendSMS(ctx, phone, message); err != nil {
		d.fail(ctx, "SMS", phone, &utils.DependencyError{Dependency: "sms", Err: err})
		return false
	}
	return true
}

func (d *Dispatcher) fail(ctx context.Context, funcName, to string, err error) {
	config.LogError(d.logger, "notification", funcName, utils.CorrelationIdFromContextOrNew(ctx), map[string]string{"to": to}, err)
}
