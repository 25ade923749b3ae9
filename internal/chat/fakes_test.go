package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-relay/internal/blob"
)

// memStore is an in-memory Store.
type memStore struct {
	mu            sync.Mutex
	messages      []Message
	notifications []Notification
	nextID        int64

	messageErr      error
	notificationErr error
}

func newMemStore() *memStore {
	return &memStore{}
}

// SaveMessageWithNotification stores both records or neither.
func (s *memStore) SaveMessageWithNotification(_ context.Context, m *Message, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messageErr != nil {
		return s.messageErr
	}
	if s.notificationErr != nil {
		return s.notificationErr
	}
	now := time.Now().UTC()
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = now
	if m.Status == "" {
		m.Status = StatusSent
	}
	s.nextID++
	n.ID = s.nextID
	n.CreatedAt = now
	s.messages = append(s.messages, *m)
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *memStore) SaveNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notificationErr != nil {
		return s.notificationErr
	}
	if n.SourceRef != "" {
		for _, existing := range s.notifications {
			if existing.SourceRef == n.SourceRef {
				return fmt.Errorf("%w: %s", ErrDuplicate, n.SourceRef)
			}
		}
	}
	s.nextID++
	n.ID = s.nextID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

func between(m Message, f MessageFilter) bool {
	return (m.SenderID == f.UserA && m.ReceiverID == f.UserB) ||
		(m.SenderID == f.UserB && m.ReceiverID == f.UserA)
}

func (s *memStore) FindMessages(_ context.Context, filter MessageFilter, page Page) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Message{}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if between(s.messages[i], filter) {
			out = append(out, s.messages[i])
		}
	}
	return window(out, page), nil
}

func (s *memStore) CountMessages(_ context.Context, filter MessageFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, m := range s.messages {
		if between(m, filter) {
			total++
		}
	}
	return total, nil
}

func (s *memStore) ListConversations(_ context.Context, userID string, page Page) ([]Conversation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPartner := map[string]*Conversation{}
	for _, m := range s.messages {
		var partner string
		switch userID {
		case m.SenderID:
			partner = m.ReceiverID
		case m.ReceiverID:
			partner = m.SenderID
		default:
			continue
		}
		c, ok := byPartner[partner]
		if !ok {
			c = &Conversation{PartnerID: partner}
			byPartner[partner] = c
		}
		c.MessageCount++
		if m.CreatedAt.After(c.LastMessageTimestamp) {
			c.LastMessageTimestamp = m.CreatedAt
		}
	}
	out := []Conversation{}
	for _, c := range byPartner {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTimestamp.After(out[j].LastMessageTimestamp)
	})
	return window(out, page), len(out), nil
}

func (s *memStore) FindNotifications(_ context.Context, receiverID string, page Page) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Notification{}
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].ReceiverID == receiverID {
			out = append(out, s.notifications[i])
		}
	}
	return window(out, page), nil
}

func (s *memStore) UpdateMessageStatus(_ context.Context, id int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !status.Valid() {
		return ErrInvalidStatus
	}
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		if !s.messages[i].Status.CanAdvanceTo(status) {
			return ErrStatusRegression
		}
		s.messages[i].Status = status
		return nil
	}
	return ErrNotFound
}

func (s *memStore) MarkNotificationRead(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) notificationList() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

func window[T any](items []T, page Page) []T {
	if page.Skip >= len(items) {
		return items[:0]
	}
	items = items[page.Skip:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}

// fakeConn records pushed frames.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, payload)
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

type published struct {
	topic string
	data  []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, published{topic: topic, data: data})
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("%d-0", len(p.calls)), nil
}

func (p *fakePublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.calls...)
}

type fakeBlob struct {
	mu    sync.Mutex
	calls []blob.UploadOptions
	err   error
}

func (b *fakeBlob) Upload(_ context.Context, data []byte, opts blob.UploadOptions) (*blob.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, opts)
	if b.err != nil {
		return nil, b.err
	}
	if len(data) == 0 {
		return nil, errors.New("empty")
	}
	return &blob.Result{
		SecureURL: "https://cdn.test/" + opts.Folder + "/" + opts.ID + ".png",
		Key:       opts.Folder + "/" + opts.ID + ".png",
	}, nil
}

func (b *fakeBlob) uploads() []blob.UploadOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]blob.UploadOptions(nil), b.calls...)
}
