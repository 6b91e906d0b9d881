// Package events publishes compiled mapping exports to Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"finitefield.org/usermapping/internal/services"
)

// PubSubExportPublisher publishes export messages to a Pub/Sub topic.
type PubSubExportPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.ExportPublisher = (*PubSubExportPublisher)(nil)

// NewPubSubExportPublisher constructs a Pub/Sub backed export publisher.
func NewPubSubExportPublisher(topic *pubsub.Topic) (*PubSubExportPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub export publisher: topic is required")
	}
	return &PubSubExportPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishExport sends the message and waits for the server-assigned id.
func (p *PubSubExportPublisher) PublishExport(ctx context.Context, message services.ExportMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub export publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal export message: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "exportId", message.ExportID)
	if !message.GeneratedAt.IsZero() {
		attrs["generatedAt"] = message.GeneratedAt.UTC().Format(time.RFC3339)
	}
	attrs["fieldMappings"] = strconv.Itoa(message.FieldMappings)
	attrs["optionMappings"] = strconv.Itoa(message.OptionMappings)
	setAttr(attrs, "idempotencyKey", message.IdempotencyKey)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish export: %w", err)
	}
	return id, nil
}

// Check verifies the topic exists.
func (p *PubSubExportPublisher) Check(ctx context.Context) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub export publisher: not initialised")
	}
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("pubsub topic %s: %w", p.topic.ID(), err)
	}
	if !ok {
		return fmt.Errorf("pubsub topic %s does not exist", p.topic.ID())
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubExportPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
