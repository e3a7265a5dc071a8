//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_RetainedDiscoveryRoundtrip(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-voice-int"

	client, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	topic := Topics{}.Discovery("itest", "lamp-1")
	if err := client.Publish(ctx, topic, []byte(`{"id":"lamp-1"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Publish(ctx, topic, nil, 1, true) })

	got := make(chan string, 1)
	if err := client.Subscribe(Topics{}.AllDiscovery("itest"), 1, func(topic string, _ []byte) error {
		select {
		case got <- topic:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case tp := <-got:
		if tp != topic {
			t.Errorf("topic = %q, want %q", tp, topic)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("retained discovery message not delivered")
	}
}
