package hub

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"chat-server/models"
)

func newTestClient(buffer int) *Client {
	return &Client{
		send: make(chan []byte, buffer),
		keys: make(map[string]bool),
	}
}

func drain(t *testing.T, c *Client) models.Event {
	t.Helper()
	select {
	case data := <-c.send:
		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return event
	default:
		t.Fatal("no frame delivered")
		return models.Event{}
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	h := New(zerolog.Nop())
	a := newTestClient(4)
	b := newTestClient(4)
	other := newTestClient(4)

	h.Subscribe(ChannelKey("c1"), a)
	h.Subscribe(ChannelKey("c1"), b)
	h.Subscribe(ChannelKey("c2"), other)

	h.Publish(ChannelKey("c1"), models.Event{Type: models.EventMessage, Payload: "hi"})

	for _, c := range []*Client{a, b} {
		event := drain(t, c)
		if event.Type != models.EventMessage {
			t.Fatalf("event type = %s, want message", event.Type)
		}
	}
	select {
	case <-other.send:
		t.Fatal("event leaked to another destination")
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(zerolog.Nop())
	c := newTestClient(4)

	h.Subscribe(GroupKey("g1"), c)
	h.Unsubscribe(GroupKey("g1"), c)
	h.Publish(GroupKey("g1"), models.Event{Type: models.EventMessage})

	select {
	case <-c.send:
		t.Fatal("delivered after unsubscribe")
	default:
	}
	if h.Subscribers(GroupKey("g1")) != 0 {
		t.Fatal("subscriber count should be zero")
	}
}

func TestSlowSubscriberMissesEvent(t *testing.T) {
	h := New(zerolog.Nop())
	slow := newTestClient(1)
	fast := newTestClient(4)

	h.Subscribe(UserKey("u1"), slow)
	h.Subscribe(UserKey("u1"), fast)

	// fill the slow client's buffer
	h.Publish(UserKey("u1"), models.Event{Type: models.EventMessage, Payload: "first"})
	h.Publish(UserKey("u1"), models.Event{Type: models.EventMessage, Payload: "second"})

	if got := len(slow.send); got != 1 {
		t.Fatalf("slow client buffered %d frames, want 1 (second dropped)", got)
	}
	if got := len(fast.send); got != 2 {
		t.Fatalf("fast client buffered %d frames, want 2", got)
	}

	// the publisher never blocked and the hub still works
	drain(t, fast)
	drain(t, fast)
}

func TestRemoveDropsAllSubscriptions(t *testing.T) {
	h := New(zerolog.Nop())
	c := newTestClient(4)

	h.Subscribe(ChannelKey("c1"), c)
	h.Subscribe(GroupKey("g1"), c)
	h.Subscribe(StatusKey, c)

	h.remove(c)

	for _, key := range []string{ChannelKey("c1"), GroupKey("g1"), StatusKey} {
		if h.Subscribers(key) != 0 {
			t.Fatalf("key %q still has subscribers after remove", key)
		}
	}
}

func TestKeyFor(t *testing.T) {
	cases := []struct {
		dest models.Destination
		want string
	}{
		{models.Destination{Kind: models.DestDirect, ID: "u1"}, "user:u1"},
		{models.Destination{Kind: models.DestChannel, ID: "c1"}, "channel:c1"},
		{models.Destination{Kind: models.DestGroup, ID: "g1"}, "group:g1"},
	}
	for _, tc := range cases {
		if got := KeyFor(tc.dest); got != tc.want {
			t.Errorf("KeyFor(%v) = %q, want %q", tc.dest, got, tc.want)
		}
	}
}
