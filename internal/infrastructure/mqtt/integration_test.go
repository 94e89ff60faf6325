//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sesami-core/internal/protocol"
)

// Integration tests for connection and pub/sub behaviour.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...
//
// Note: Some tests may be flaky in CI due to timing dependencies.
// Consider running with: go test -tags=integration -count=1 -v ...

func integrationIdentity(clientID string) ConnectOptions {
	return ConnectOptions{
		ClientID:    clientID,
		Component:   "door-coordinator",
		Version:     "test",
		StatusTopic: "inttest/door/health",
	}
}

func TestIntegration_Connect(t *testing.T) {
	client, err := Connect(testConfig(), integrationIdentity("sesami-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999 // nothing listens here

	_, err := Connect(cfg, integrationIdentity("sesami-int-refused"))
	if err == nil {
		t.Fatal("Connect() expected error for refused connection")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_Close(t *testing.T) {
	client, err := Connect(testConfig(), integrationIdentity("sesami-int-close"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestIntegration_HealthCheck(t *testing.T) {
	client, err := Connect(testConfig(), integrationIdentity("sesami-int-health"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}
}

// TestIntegration_OnlineStatusPublished verifies the retained health message
// a freshly connected daemon announces itself with.
func TestIntegration_OnlineStatusPublished(t *testing.T) {
	identity := integrationIdentity("sesami-int-status")

	client, err := Connect(testConfig(), identity)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	// Give the on-connect handler time to publish
	time.Sleep(200 * time.Millisecond)

	watcher, err := Connect(testConfig(), integrationIdentity("sesami-int-status-watch"))
	if err != nil {
		t.Fatalf("Connect() watcher error = %v", err)
	}
	defer watcher.Close()

	received := make(chan []byte, 1)
	err = watcher.Subscribe(identity.StatusTopic, 1, func(topic string, payload []byte) error {
		select {
		case received <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		var msg protocol.HealthMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("health payload not valid JSON: %v", err)
		}
		if msg.Status != protocol.HealthOnline {
			t.Errorf("health status = %q, want %q", msg.Status, protocol.HealthOnline)
		}
		if msg.Component != identity.Component {
			t.Errorf("health component = %q, want %q", msg.Component, identity.Component)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for retained health message")
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	pubClient, err := Connect(testConfig(), integrationIdentity("sesami-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pubClient.Close()

	subClient, err := Connect(testConfig(), integrationIdentity("sesami-int-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer subClient.Close()

	topic := "inttest/lock/state"
	expected := `{"state":"unlocked"}`

	received := make(chan string, 1)
	var once sync.Once

	err = subClient.Subscribe(topic, 1, func(t string, p []byte) error {
		once.Do(func() {
			received <- string(p)
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pubClient.PublishString(topic, expected, 1, false); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != expected {
			t.Errorf("Received = %q, want %q", msg, expected)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}

func TestIntegration_WildcardSubscription(t *testing.T) {
	pubClient, err := Connect(testConfig(), integrationIdentity("sesami-int-wild-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pubClient.Close()

	subClient, err := Connect(testConfig(), integrationIdentity("sesami-int-wild-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer subClient.Close()

	// One subscription covering every device's lock state
	pattern := "+/lock/state"
	var receivedMu sync.Mutex
	receivedTopics := make(map[string]bool)

	err = subClient.Subscribe(pattern, 1, func(topic string, payload []byte) error {
		receivedMu.Lock()
		receivedTopics[topic] = true
		receivedMu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	topics := []string{
		"frontdoor/lock/state",
		"backdoor/lock/state",
		"garage/lock/state",
	}
	for _, topic := range topics {
		if err := pubClient.PublishString(topic, `{"state":"locked"}`, 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", topic, err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	receivedMu.Lock()
	defer receivedMu.Unlock()
	for _, topic := range topics {
		if !receivedTopics[topic] {
			t.Errorf("Did not receive message for topic %s", topic)
		}
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(testConfig(), integrationIdentity("sesami-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		"inttest/lock/state",
		"inttest/button/event",
		"inttest/door/request",
	}

	handler := func(topic string, payload []byte) error {
		return nil
	}

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	if client.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	if client.SubscriptionCount() != len(topics)-1 {
		t.Errorf("SubscriptionCount() after unsubscribe = %d, want %d", client.SubscriptionCount(), len(topics)-1)
	}
	if client.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after unsubscribe", topics[0])
	}
}

func TestIntegration_HandlerError(t *testing.T) {
	client, err := Connect(testConfig(), integrationIdentity("sesami-int-handler-err"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	logger := &mockLogger{}
	client.SetLogger(logger)

	topic := "inttest/handler-error"
	handlerCalled := make(chan struct{}, 1)

	err = client.Subscribe(topic, 1, func(t string, p []byte) error {
		select {
		case handlerCalled <- struct{}{}:
		default:
		}
		return errors.New("handler error")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := client.PublishString(topic, "test", 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-handlerCalled:
	case <-time.After(2 * time.Second):
		t.Error("Handler was not called")
	}

	// Warn log arrives asynchronously after the handler returns
	deadline := time.Now().Add(2 * time.Second)
	for {
		logger.mu.Lock()
		warned := len(logger.warns) > 0
		logger.mu.Unlock()
		if warned {
			break
		}
		if time.Now().After(deadline) {
			t.Error("handler error was not logged")
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIntegration_GracefulOfflineStatus(t *testing.T) {
	identity := integrationIdentity("sesami-int-goodbye")

	watcher, err := Connect(testConfig(), integrationIdentity("sesami-int-goodbye-watch"))
	if err != nil {
		t.Fatalf("Connect() watcher error = %v", err)
	}
	defer watcher.Close()

	payloads := make(chan string, 8)
	err = watcher.Subscribe(identity.StatusTopic, 1, func(topic string, payload []byte) error {
		payloads <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	client, err := Connect(testConfig(), identity)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	client.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case payload := <-payloads:
			if strings.Contains(payload, `"graceful_shutdown"`) {
				return // saw the goodbye
			}
		case <-deadline:
			t.Fatal("Timeout waiting for graceful offline status")
		}
	}
}
