package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"gatehouse.dev/internal/auth"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []published
	token        pahomqtt.Token
	offline      bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return completedToken(nil)
}

func (c *fakeClient) IsConnected() bool { return !c.offline }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestPublishWritesJSONToTypedTopic(t *testing.T) {
	client := &fakeClient{}
	pub, err := NewPublisher(client, "gatehouse/events/", 1, nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	ev := auth.Event{
		Type:       auth.EventAccountLocked,
		UserID:     12,
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Attributes: map[string]string{"minutes": "15"},
	}
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(client.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.topic != "gatehouse/events/account.locked" || msg.qos != 1 {
		t.Fatalf("unexpected topic/qos %q %d", msg.topic, msg.qos)
	}
	var got auth.Event
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.UserID != 12 || got.Attributes["minutes"] != "15" {
		t.Fatalf("unexpected payload %+v", got)
	}

	pub.Close()
	if !client.disconnected {
		t.Fatal("Close should disconnect")
	}
}

func TestPublishReportsBrokerError(t *testing.T) {
	client := &fakeClient{token: completedToken(errors.New("not authorized"))}
	pub, _ := NewPublisher(client, "", 0, nil)
	err := pub.Publish(context.Background(), auth.Event{Type: auth.EventUserDeactivated})
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}
	if client.msgs[0].topic != auth.EventUserDeactivated {
		t.Fatalf("unexpected topic %q", client.msgs[0].topic)
	}
}

func TestPublishHonorsContext(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: make(chan struct{})}}
	pub, _ := NewPublisher(client, "p", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.Publish(ctx, auth.Event{Type: auth.EventSessionsRevoked})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPublishGivesUpOnStalledBroker(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: make(chan struct{})}}
	pub, _ := NewPublisher(client, "p", 1, nil)
	pub.timeout = 20 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- pub.Publish(context.Background(), auth.Event{Type: auth.EventAccountLocked}) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected publish timeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on an unacknowledged token")
	}
}

func TestPublishFailsFastWhileDisconnected(t *testing.T) {
	client := &fakeClient{offline: true}
	pub, _ := NewPublisher(client, "p", 1, nil)
	if err := pub.Publish(context.Background(), auth.Event{Type: auth.EventAccountLocked}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if len(client.msgs) != 0 {
		t.Fatalf("nothing should be queued while offline, got %d", len(client.msgs))
	}
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(nil, "p", 0, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewPublisher(&fakeClient{}, "p", 3, nil); err == nil {
		t.Fatal("expected error for qos 3")
	}
}

type countingPublisher struct {
	n   int
	err error
}

func (c *countingPublisher) Publish(context.Context, auth.Event) error {
	c.n++
	return c.err
}

func TestFanoutDeliversToAll(t *testing.T) {
	a := &countingPublisher{}
	b := &countingPublisher{err: errors.New("down")}
	c := &countingPublisher{}
	err := Fanout{a, b, nil, c}.Publish(context.Background(), auth.Event{Type: "x"})
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.n != 1 || b.n != 1 || c.n != 1 {
		t.Fatalf("deliveries = %d %d %d", a.n, b.n, c.n)
	}
}
