package chathub_test

import (
	"encoding/json"
	"sync"

	"claimhub/backend/internal/models"
)

// MockConn records the events sent to it. FailWith makes Send return an error.
type MockConn struct {
	mu     sync.Mutex
	events []models.Event
	err    error
	panics bool
	closed int

	release <-chan struct{}
	waiting chan struct{}
}

func newMockConn() *MockConn {
	return &MockConn{}
}

func (c *MockConn) Send(ev models.Event) error {
	c.mu.Lock()
	release, waiting := c.release, c.waiting
	c.release, c.waiting = nil, nil
	c.mu.Unlock()
	if release != nil {
		close(waiting)
		<-release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panics {
		panic("send on closed channel")
	}
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *MockConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *MockConn) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *MockConn) Panic() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panics = true
}

// Block makes the next Send wait until release is closed. The returned
// channel is closed once that Send is waiting.
func (c *MockConn) Block(release <-chan struct{}) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release = release
	c.waiting = make(chan struct{})
	return c.waiting
}

func (c *MockConn) Received() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

func (c *MockConn) ClosedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// chatMessages decodes every receive_chat event the connection got.
func (c *MockConn) chatMessages() []models.ChatMessage {
	var out []models.ChatMessage
	for _, ev := range c.Received() {
		if ev.Name != models.EventReceiveChat {
			continue
		}
		var msg models.ChatMessage
		if err := json.Unmarshal(ev.Data, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}
