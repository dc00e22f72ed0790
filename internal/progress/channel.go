package progress

import "sync"

// Channel is the ordered, unbounded mailbox connecting one worker to one
// consumer. Put never blocks the producer and TryTakeAll never blocks the
// consumer. A Channel belongs to a single task instance and is not reused.
type Channel struct {
	mu     sync.Mutex
	queue  []Message
	closed bool
	puts   int
}

// NewChannel creates an empty, open channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Put appends a copy of msg. It returns false once the channel is closed,
// in which case the message is dropped.
func (c *Channel) Put(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.queue = append(c.queue, msg.clone())
	c.puts++
	return true
}

// TryTakeAll removes and returns every pending message in FIFO order.
// It returns nil when nothing is pending.
func (c *Channel) TryTakeAll() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}
	msgs := c.queue
	c.queue = nil
	return msgs
}

// Len reports the number of pending messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Produced reports how many messages were accepted by Put over the
// channel's lifetime.
func (c *Channel) Produced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

// Close rejects all later puts. Pending messages stay available to TryTakeAll.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
