package orchestration

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkaramanos/synaxis/core"
)

// MessageBus decouples producer and consumer sub-tasks inside a composite
// pipeline. It supports broadcast delivery by message kind and direct
// addressed delivery to a task's mailbox, with bounded per-mailbox
// buffering. Each mailbox has a single consumer (its owning task) and any
// number of concurrent publishers; delivery order is FIFO per publisher
// only.
type MessageBus struct {
	mu         sync.Mutex
	mailboxes  map[string]*mailbox
	bufferSize int
	closed     bool
	done       chan struct{}
	logger     core.Logger
}

// BusConfig configures the message bus
type BusConfig struct {
	// BufferSize bounds each mailbox; when full, the oldest undelivered
	// message is dropped to make room
	BufferSize int

	// Logger is optional
	Logger core.Logger
}

// DefaultBusConfig returns sensible defaults
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		BufferSize: 64,
	}
}

type mailbox struct {
	mu     sync.Mutex
	kinds  map[string]struct{}
	queue  []core.Message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		kinds:  make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// append adds a message to the mailbox, dropping the oldest entry when the
// buffer is full, and wakes a blocked reader.
func (m *mailbox) append(msg core.Message, limit int) (dropped bool) {
	m.mu.Lock()
	if limit > 0 && len(m.queue) >= limit {
		m.queue = m.queue[1:]
		dropped = true
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (m *mailbox) drain() []core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	out := m.queue
	m.queue = nil
	return out
}

func (m *mailbox) discard() {
	m.mu.Lock()
	m.queue = nil
	m.mu.Unlock()
}

// NewMessageBus creates a message bus
func NewMessageBus(config *BusConfig) *MessageBus {
	if config == nil {
		config = DefaultBusConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &MessageBus{
		mailboxes:  make(map[string]*mailbox),
		bufferSize: bufferSize,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Subscribe registers taskName's interest in the given message kinds and
// creates its mailbox. A task must subscribe before it can observe any
// message, including direct addressed ones. Subscribing again extends the
// kind set.
func (b *MessageBus) Subscribe(taskName string, kinds ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return core.ErrBusClosed
	}

	mb, ok := b.mailboxes[taskName]
	if !ok {
		mb = newMailbox()
		b.mailboxes[taskName] = mb
	}
	for _, kind := range kinds {
		mb.kinds[kind] = struct{}{}
	}

	b.logger.Debug("Bus subscription registered", map[string]interface{}{
		"task":  taskName,
		"kinds": kinds,
	})
	return nil
}

// Publish delivers a message. Broadcast messages go to every mailbox
// subscribed to the message's kind; addressed messages go to the named
// mailbox regardless of its kind subscriptions. The bus assigns the
// message ID and timestamp.
func (b *MessageBus) Publish(msg core.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBusClosed
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var targets []*mailbox
	if msg.To == core.Broadcast {
		for _, mb := range b.mailboxes {
			if _, interested := mb.kinds[msg.Kind]; interested {
				targets = append(targets, mb)
			}
		}
	} else {
		mb, ok := b.mailboxes[msg.To]
		if !ok {
			b.mu.Unlock()
			return core.NewCoordinationError("bus.Publish", "bus", core.ErrNotSubscribed)
		}
		targets = append(targets, mb)
	}
	b.mu.Unlock()

	for _, mb := range targets {
		if mb.append(msg, b.bufferSize) {
			b.logger.Warn("Mailbox full, dropped oldest message", map[string]interface{}{
				"to":   msg.To,
				"kind": msg.Kind,
			})
		}
	}
	return nil
}

// GetMessages drains the calling task's mailbox. If the mailbox is empty it
// blocks up to timeout for at least one message, then returns whatever has
// arrived; an empty list on timeout is not an error. A bus shutdown wakes
// the call immediately.
func (b *MessageBus) GetMessages(taskName string, timeout time.Duration) ([]core.Message, error) {
	b.mu.Lock()
	mb, ok := b.mailboxes[taskName]
	done := b.done
	b.mu.Unlock()

	if !ok {
		return nil, core.NewCoordinationError("bus.GetMessages", "bus", core.ErrNotSubscribed)
	}

	if msgs := mb.drain(); len(msgs) > 0 {
		return msgs, nil
	}

	if timeout <= 0 {
		return []core.Message{}, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-mb.notify:
			// A stale wake-up token from an already-drained publish
			// is possible; keep waiting until a message is present
			if msgs := mb.drain(); len(msgs) > 0 {
				return msgs, nil
			}
		case <-timer.C:
			return []core.Message{}, nil
		case <-done:
			msgs := mb.drain()
			if msgs == nil {
				msgs = []core.Message{}
			}
			return msgs, nil
		}
	}
}

// Shutdown discards all buffered, undelivered messages and wakes every
// pending GetMessages call. Shutdown is idempotent.
func (b *MessageBus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, mb := range b.mailboxes {
		mb.discard()
	}
	close(b.done)
	b.mu.Unlock()

	b.logger.Debug("Message bus shut down", nil)
}

// SubscriberCount returns the number of registered mailboxes
func (b *MessageBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mailboxes)
}
