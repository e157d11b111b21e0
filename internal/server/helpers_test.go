package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/fanout"
	"github.com/Tyrowin/chatrelay/internal/models"
	"github.com/Tyrowin/chatrelay/internal/store"
)

const (
	testInstance = "instance-a"
	testOrigin   = "http://localhost:8080"
	frameTimeout = time.Second
)

// tokenVerifier accepts the tokens in its map.
type tokenVerifier map[string]models.Identity

func (v tokenVerifier) Verify(token string) (models.Identity, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", auth.ErrInvalidToken
}

var testTokens = tokenVerifier{
	"token-u1": "u1",
	"token-u2": "u2",
	"token-u3": "u3",
}

type published struct {
	channel string
	event   fanout.Event
}

// recordingPublisher records publishes and optionally fails them.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, ev fanout.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{channel: channel, event: ev})
	return nil
}

func (p *recordingPublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

// failingMessages is a store whose writes always fail.
type failingMessages struct {
	*store.Memory
}

func (failingMessages) CreateMessage(context.Context, models.Identity, models.Identity, string) (*models.Message, error) {
	return nil, errors.New("database unavailable")
}

func (failingMessages) MarkSeen(context.Context, string, models.Identity) error {
	return errors.New("database unavailable")
}

// newTestStore returns a memory store with users u1, u2, u3 where u1 and
// u2 are friends.
func newTestStore() *store.Memory {
	mem := store.NewMemory()
	for _, id := range []string{"u1", "u2", "u3"} {
		mem.AddUser(models.UserSummary{ID: id, Name: "User " + id, Email: id + "@example.com"})
	}
	mem.AddFriendship("u1", "u2")
	return mem
}

type testRelay struct {
	relay     *Relay
	store     *store.Memory
	publisher *recordingPublisher
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	mem := newTestStore()
	pub := &recordingPublisher{}
	r := NewRelay(RelayOptions{
		InstanceID: testInstance,
		Verifier:   testTokens,
		Oracle:     mem,
		Messages:   mem,
		Publisher:  pub,
	})
	return &testRelay{relay: r, store: mem, publisher: pub}
}

// newTestClient creates a client without a transport; frames are only
// queued on its send channel.
func newTestClient(r *Relay) *Client {
	return NewClient(nil, nil, r, "test", ClientOptions{RateBurst: 100, RateInterval: time.Second})
}

func sendFrame(t *testing.T, r *Relay, c *Client, frame any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Failed to marshal frame: %v", err)
	}
	r.HandleFrame(context.Background(), c, raw)
}

// authenticate authenticates c and consumes the connected frame.
func authenticate(t *testing.T, r *Relay, c *Client, token string) {
	t.Helper()
	sendFrame(t, r, c, map[string]string{"type": FrameAuth, "token": token})
	frame := nextFrame(t, c)
	if frame["type"] != FrameConnected {
		t.Fatalf("Expected connected frame, got %v", frame)
	}
}

// nextFrame reads the next queued frame for c.
func nextFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw, ok := <-c.GetSendChan():
		if !ok {
			t.Fatal("Send channel closed while waiting for a frame")
		}
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("Failed to decode frame %q: %v", raw, err)
		}
		return frame
	case <-time.After(frameTimeout):
		t.Fatal("Timed out waiting for a frame")
	}
	return nil
}

// expectNoFrame fails if c has a queued frame.
func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw, ok := <-c.GetSendChan():
		if ok {
			t.Fatalf("Expected no frame, got %s", raw)
		}
		t.Fatal("Expected no frame, send channel was closed")
	case <-time.After(50 * time.Millisecond):
	}
}

// expectClosed drains c and fails unless its send channel is closed.
func expectClosed(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(frameTimeout)
	for {
		select {
		case _, ok := <-c.GetSendChan():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Expected connection to be closed")
		}
	}
}

func expectError(t *testing.T, c *Client, want string) {
	t.Helper()
	frame := nextFrame(t, c)
	if frame["type"] != FrameTypeError {
		t.Fatalf("Expected error frame, got %v", frame)
	}
	if want != "" && frame["message"] != want {
		t.Errorf("Expected error message %q, got %q", want, frame["message"])
	}
}
