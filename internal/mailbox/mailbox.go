// Package mailbox implements the process-wide inter-agent message store:
// per-recipient FIFO queues with priority lanes and reply threading.
package mailbox

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders delivery within a recipient's queue. Higher values drain
// first; within one priority, delivery is FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func parsePriority(p Priority) int {
	if p < PriorityLow || p > PriorityUrgent {
		return int(PriorityNormal)
	}
	return int(p)
}

// Status is a message's lifecycle state.
type Status string

const (
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusArchived Status = "archived"
)

// Message is a single mailbox entry.
type Message struct {
	ID         string
	From       string
	To         string
	Subject    string
	Body       string
	Priority   Priority
	InReplyTo  string
	Status     Status
	SentAt     time.Time
	ReadAt     time.Time
}

// SendRequest is the input to Send.
type SendRequest struct {
	From      string
	To        string
	Subject   string
	Body      string
	Priority  Priority
	InReplyTo string
}

// Filter narrows the results of Check/List.
type Filter struct {
	Status Status // zero value means any status
}

// Mailbox is a process-wide store of messages, one FIFO-with-priority queue
// per recipient. A recipient's queue exists and accepts deliveries whether
// or not the recipient's AgentRuntime has been instantiated yet (I6).
type Mailbox struct {
	mu       sync.Mutex
	messages map[string]*Message // messageId -> message
	inboxes  map[string][]string // recipient -> ordered messageIds (insertion order; priority applied at read time)
	store    Store
	logger   *slog.Logger
}

// New creates an empty, in-memory-only Mailbox.
func New() *Mailbox {
	return &Mailbox{
		messages: make(map[string]*Message),
		inboxes:  make(map[string][]string),
		logger:   slog.Default(),
	}
}

// NewWithStore creates a Mailbox that writes every Send/status transition
// through to store in addition to keeping it in memory. It does not load
// earlier messages back from store, so a new Mailbox starts with empty
// inboxes even when store already holds mail. A Send failure is returned to the caller; status-
// transition write failures (Check/Archive) are logged rather than
// returned, since the in-memory read they accompany has already happened
// and the durable copy merely falls behind.
func NewWithStore(store Store) *Mailbox {
	m := New()
	m.store = store
	return m
}

// Send stores a message and makes it immediately visible to the recipient's
// queue. The returned id is also the id a later Reply threads against via
// InReplyTo.
func (m *Mailbox) Send(req SendRequest) (string, error) {
	if req.To == "" {
		return "", fmt.Errorf("mailbox: recipient must not be empty")
	}
	id := uuid.NewString()
	msg := &Message{
		ID:        id,
		From:      req.From,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		Priority:  req.Priority,
		InReplyTo: req.InReplyTo,
		Status:    StatusUnread,
		SentAt:    time.Now(),
	}

	m.mu.Lock()
	m.messages[id] = msg
	m.inboxes[req.To] = append(m.inboxes[req.To], id)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(msg); err != nil {
			return "", fmt.Errorf("mailbox: persist message %s: %w", id, err)
		}
	}
	return id, nil
}

// Check returns messages for a recipient matching filter, ordered by
// priority lane (urgent first) then FIFO within a lane. Non-destructive:
// unread messages are marked read, never archived, by this call.
func (m *Mailbox) Check(to string, filter Filter) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.inboxes[to]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg := m.messages[id]
		if msg == nil {
			continue
		}
		if filter.Status != "" && msg.Status != filter.Status {
			continue
		}
		out = append(out, msg)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return parsePriority(out[i].Priority) > parsePriority(out[j].Priority)
	})

	now := time.Now()
	var transitioned []*Message
	for _, msg := range out {
		if msg.Status == StatusUnread {
			msg.Status = StatusRead
			msg.ReadAt = now
			transitioned = append(transitioned, msg)
		}
	}

	if m.store != nil {
		for _, msg := range transitioned {
			if err := m.store.UpdateStatus(msg.ID, msg.Status, msg.ReadAt); err != nil {
				m.logger.Warn("mailbox store update failed", "message_id", msg.ID, "error", err)
			}
		}
	}
	return out
}

// Reply sends a new message threaded to an existing one via InReplyTo,
// addressed back to the original message's sender.
func (m *Mailbox) Reply(messageID, from, body string) (string, error) {
	m.mu.Lock()
	orig, ok := m.messages[messageID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mailbox: unknown message %q", messageID)
	}
	return m.Send(SendRequest{
		From:      from,
		To:        orig.From,
		Subject:   orig.Subject,
		Body:      body,
		Priority:  orig.Priority,
		InReplyTo: messageID,
	})
}

// Archive marks a message archived so it no longer surfaces in a
// status-filtered Check/List for unread/read.
func (m *Mailbox) Archive(messageID string) error {
	m.mu.Lock()
	msg, ok := m.messages[messageID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mailbox: unknown message %q", messageID)
	}
	msg.Status = StatusArchived
	readAt := msg.ReadAt
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateStatus(messageID, StatusArchived, readAt); err != nil {
			m.logger.Warn("mailbox store update failed", "message_id", messageID, "error", err)
		}
	}
	return nil
}

// List returns all of a recipient's messages matching filter, in priority
// then FIFO order, without changing their status (unlike Check).
func (m *Mailbox) List(to string, filter Filter) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.inboxes[to]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg := m.messages[id]
		if msg == nil {
			continue
		}
		if filter.Status != "" && msg.Status != filter.Status {
			continue
		}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return parsePriority(out[i].Priority) > parsePriority(out[j].Priority)
	})
	return out
}
