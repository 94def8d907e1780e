package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Publisher sends one message to the notification topic and returns its server id.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// AttachmentStore keeps attachment bodies out of the Pub/Sub message.
type AttachmentStore interface {
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, objectName string) error
}

type topicPublisher struct {
	topic *pubsub.Topic
}

func NewTopicPublisher(topic *pubsub.Topic) Publisher {
	return &topicPublisher{topic: topic}
}

func (p *topicPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	return result.Get(ctx)
}

type AttachmentRef struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	URL         string `json:"url,omitempty"`
	// Content is inlined only when no attachment store is configured.
	Content []byte `json:"content,omitempty"`
}

// Message is the payload the mail/SMS delivery worker consumes.
type Message struct {
	Id            string          `json:"id"`
	Channel       string          `json:"channel"`
	To            string          `json:"to"`
	Subject       string          `json:"subject,omitempty"`
	Body          string          `json:"body"`
	Attachments   []AttachmentRef `json:"attachments,omitempty"`
	CorrelationId string          `json:"correlationId"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type PubSubNotifier struct {
	publisher   Publisher
	attachments AttachmentStore
	logger      *logrus.Logger
}

func NewPubSubNotifier(publisher Publisher, attachments AttachmentStore, logger *logrus.Logger) (*PubSubNotifier, error) {
	if publisher == nil {
		return nil, errors.New("publisher is nil")
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &PubSubNotifier{publisher: publisher, attachments: attachments, logger: logger}, nil
}

func (n *PubSubNotifier) SendEmail(ctx context.Context, to, subject, body string, attachments []Attachment) error {
	msg := n.newMessage(ctx, ChannelEmail, to, body)
	msg.Subject = subject

	var uploaded []string
	for _, a := range attachments {
		ref := AttachmentRef{Filename: a.Filename, ContentType: a.ContentType}
		if n.attachments == nil {
			ref.Content = a.Content
		} else {
			objectName := path.Join("notifications", msg.Id, path.Base(a.Filename))
			url, err := n.attachments.UploadBytes(ctx, objectName, a.Content, a.ContentType)
			if err != nil {
				n.cleanup(ctx, uploaded)
				return fmt.Errorf("upload attachment %s: %w", a.Filename, err)
			}
			uploaded = append(uploaded, objectName)
			ref.URL = url
		}
		msg.Attachments = append(msg.Attachments, ref)
	}

	if err := n.publish(ctx, msg); err != nil {
		n.cleanup(ctx, uploaded)
		return err
	}
	return nil
}

func (n *PubSubNotifier) SendSMS(ctx context.Context, to, message string) error {
	return n.publish(ctx, n.newMessage(ctx, ChannelSMS, to, message))
}

func (n *PubSubNotifier) newMessage(ctx context.Context, channel, to, body string) *Message {
	return &Message{
		Id:            uuid.NewString(),
		Channel:       channel,
		To:            to,
		Body:          body,
		CorrelationId: utils.CorrelationIdFromContextOrNew(ctx),
		CreatedAt:     time.Now().UTC(),
	}
}

func (n *PubSubNotifier) publish(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	serverId, err := n.publisher.Publish(ctx, data, map[string]string{
		"channel":       msg.Channel,
		"correlationId": msg.CorrelationId,
	})
	if err != nil {
		return fmt.Errorf("publish %s notification: %w", msg.Channel, err)
	}
	n.logger.WithFields(logrus.Fields{
		"channel":       msg.Channel,
		"messageId":     msg.Id,
		"serverId":      serverId,
		"correlationId": msg.CorrelationId,
	}).Debug("notification published")
	return nil
}

func (n *PubSubNotifier) cleanup(ctx context.Context, objects []string) {
	for _, object := range objects {
		if err := n.attachments.Delete(context.WithoutCancel(ctx), object); err != nil {
			config.LogError(n.logger, "notification", "cleanup", "delete attachment", object, err)
		}
	}
}

// LogNotifier writes notifications to the log; used when no Pub/Sub project is configured.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) logger() *logrus.Logger {
	if n.Logger == nil {
		return config.GetLogger()
	}
	return n.Logger
}

func (n LogNotifier) SendEmail(ctx context.Context, to, subject, body string, attachments []Attachment) error {
	names := make([]string, 0, len(attachments))
	for _, a := range attachments {
		names = append(names, a.Filename)
	}
	n.logger().WithFields(logrus.Fields{
		"channel":       ChannelEmail,
		"to":            to,
		"subject":       subject,
		"attachments":   names,
		"correlationId": utils.CorrelationIdFromContextOrNew(ctx),
	}).Info("notification")
	return nil
}

func (n LogNotifier) SendSMS(ctx context.Context, to, message string) error {
	n.logger().WithFields(logrus.Fields{
		"channel":       ChannelSMS,
		"to":            to,
		"length":        len(message),
		"correlationId": utils.CorrelationIdFromContextOrNew(ctx),
	}).Info("notification")
	return nil
}
