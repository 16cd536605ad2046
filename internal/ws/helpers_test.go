package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"taskflow/internal/services/directory"
)

type testFrame struct {
	Event     string          `json:"event"`
	Body      json.RawMessage `json:"body"`
	Timestamp time.Time       `json:"timestamp"`
}

// manualClock is a settable clock for registry tests.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testUser(id string) directory.User {
	return directory.User{ID: id, Email: id + "@example.com", Name: "User " + id, Role: "developer"}
}

// newTestConn builds a connection without a socket; frames are read straight
// from its send queue.
func newTestConn(userID string, buffer int) *clientConn {
	c := newClientConn(nil, testUser(userID), buffer, time.Time{})
	c.id = userID + "-" + uuid.NewString()[:8]
	return c
}

func registerConn(t *testing.T, r *Registry, userID string) *clientConn {
	t.Helper()
	c := newTestConn(userID, 64)
	c.joinedAt = r.now()
	c.lastActivity = r.now()
	require.NoError(t, r.Register(c))
	return c
}

// drain returns every frame currently queued for c.
func drain(t *testing.T, c *clientConn) []testFrame {
	t.Helper()
	var out []testFrame
	for {
		select {
		case msg := <-c.send:
			var f testFrame
			require.NoError(t, json.Unmarshal(msg, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func events(frames []testFrame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func decodeBody[T any](t *testing.T, f testFrame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Body, &v))
	return v
}
