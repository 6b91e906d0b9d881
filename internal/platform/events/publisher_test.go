package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"finitefield.org/usermapping/internal/services"
)

func newTestTopic(t *testing.T, id string) (*pstest.Server, *pubsub.Client, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, id)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, client, topic
}

func TestPubSubExportPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, _, topic := newTestTopic(t, "mapping-exports")

	publisher, err := NewPubSubExportPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubExportPublisher: %v", err)
	}
	defer publisher.Stop()

	msg := services.ExportMessage{
		ExportID:       "exp_01h",
		GeneratedAt:    time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
		FieldMappings:  3,
		OptionMappings: 7,
		Document:       json.RawMessage(`{"user":{"field_map":{},"translation_map":{}}}`),
		IdempotencyKey: "idem-123",
	}
	if _, err := publisher.PublishExport(ctx, msg); err != nil {
		t.Fatalf("PublishExport: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload struct {
		ExportID string          `json:"exportId"`
		Document json.RawMessage `json:"document"`
	}
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ExportID != msg.ExportID {
		t.Fatalf("unexpected export id %q", payload.ExportID)
	}
	if string(payload.Document) != string(msg.Document) {
		t.Fatalf("document should be embedded verbatim, got %s", payload.Document)
	}

	attrs := messages[0].Attributes
	want := map[string]string{
		"exportId":       "exp_01h",
		"generatedAt":    "2025-05-06T09:00:00Z",
		"fieldMappings":  "3",
		"optionMappings": "7",
		"idempotencyKey": "idem-123",
	}
	for key, value := range want {
		if attrs[key] != value {
			t.Fatalf("attribute %s: expected %q, got %q", key, value, attrs[key])
		}
	}
}

func TestPubSubExportPublisherCheck(t *testing.T) {
	ctx := context.Background()
	_, client, topic := newTestTopic(t, "mapping-exports")

	publisher, err := NewPubSubExportPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubExportPublisher: %v", err)
	}
	if err := publisher.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}

	missing, err := NewPubSubExportPublisher(client.Topic("absent"))
	if err != nil {
		t.Fatalf("NewPubSubExportPublisher: %v", err)
	}
	if err := missing.Check(ctx); err == nil {
		t.Fatalf("expected missing topic to fail the check")
	}
}

func TestNewPubSubExportPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubExportPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
