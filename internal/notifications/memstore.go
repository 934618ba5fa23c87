package notifications

import (
	"context"
	"sort"
	"sync"
	"time"
)

type deliveryKey struct {
	messageID string
	userID    string
}

// MemoryStore is a Store held in process memory. The delivery map is keyed by
// (message id, user id), so uniqueness holds under concurrent writers.
type MemoryStore struct {
	mu         sync.RWMutex
	messages   map[string]*Message
	byKey      map[string]string
	deliveries map[deliveryKey]*Delivery
	byUser     map[string][]deliveryKey
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:   make(map[string]*Message),
		byKey:      make(map[string]string),
		deliveries: make(map[deliveryKey]*Delivery),
		byUser:     make(map[string][]deliveryKey),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m *Message) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.IdempotencyKey != "" {
		if id, ok := s.byKey[m.IdempotencyKey]; ok {
			*m = *s.messages[id]
			return false, nil
		}
		s.byKey[m.IdempotencyKey] = m.ID
	}
	stored := *m
	s.messages[m.ID] = &stored
	return true, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	out := *m
	return &out, nil
}

func (s *MemoryStore) GetMessageByIdempotencyKey(ctx context.Context, key string) (*Message, error) {
	s.mu.RLock()
	id, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMessageNotFound
	}
	return s.GetMessage(ctx, id)
}

func (s *MemoryStore) InsertDeliveries(ctx context.Context, messageID string, userIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return nil, storageErr("insert deliveries", ErrMessageNotFound)
	}
	now := s.now()
	created := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		k := deliveryKey{messageID: messageID, userID: uid}
		if _, exists := s.deliveries[k]; exists {
			continue
		}
		s.deliveries[k] = &Delivery{MessageID: messageID, UserID: uid, CreatedAt: now}
		s.byUser[uid] = append(s.byUser[uid], k)
		created = append(created, uid)
	}
	return created, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[deliveryKey{messageID: messageID, userID: userID}]
	if !ok {
		return ErrDeliveryNotFound
	}
	if !d.IsRead {
		d.IsRead = true
		d.ReadAt = &at
	}
	return nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, k := range s.byUser[userID] {
		if d := s.deliveries[k]; !d.IsRead {
			d.IsRead = true
			d.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, k := range s.byUser[userID] {
		if !s.deliveries[k].IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) History(ctx context.Context, userID string, after *HistoryCursor, limit int) ([]HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]HistoryEntry, 0, len(s.byUser[userID]))
	for _, k := range s.byUser[userID] {
		m := *s.messages[k.messageID]
		if after != nil && !olderThan(m, after) {
			continue
		}
		entries = append(entries, HistoryEntry{Message: m, Delivery: copyDelivery(s.deliveries[k])})
	}
	sortNewestFirst(entries, func(e HistoryEntry) Message { return e.Message })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, params ListParams) ([]MessageSummary, int, error) {
	params.normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := s.countByMessage()
	all := make([]MessageSummary, 0, len(s.messages))
	for id, m := range s.messages {
		c := counts[id]
		all = append(all, MessageSummary{Message: *m, SentCount: c.SentCount, ReadCount: c.ReadCount, CreatedAt: m.CreatedAt})
	}
	sortNewestFirst(all, func(ms MessageSummary) Message { return ms.Message })

	total := len(all)
	if params.Offset >= total {
		return []MessageSummary{}, total, nil
	}
	end := min(params.Offset+params.Limit, total)
	return all[params.Offset:end], total, nil
}

func (s *MemoryStore) Totals(ctx context.Context) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := Totals{TotalMessages: len(s.messages), TotalDeliveries: len(s.deliveries)}
	for _, d := range s.deliveries {
		if d.IsRead {
			t.TotalRead++
		}
	}
	return t, nil
}

func (s *MemoryStore) MessageStats(ctx context.Context, messageID string) (MessageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.messages[messageID]; !ok {
		return MessageStats{}, ErrMessageNotFound
	}
	ms := s.countByMessage()[messageID]
	ms.MessageID = messageID
	return ms, nil
}

func (s *MemoryStore) countByMessage() map[string]MessageStats {
	counts := make(map[string]MessageStats, len(s.messages))
	for k, d := range s.deliveries {
		c := counts[k.messageID]
		c.SentCount++
		if d.IsRead {
			c.ReadCount++
		}
		counts[k.messageID] = c
	}
	return counts
}

// olderThan reports whether m sorts after the cursor in newest-first order.
func olderThan(m Message, c *HistoryCursor) bool {
	if m.CreatedAt.Equal(c.CreatedAt) {
		return m.ID < c.MessageID
	}
	return m.CreatedAt.Before(c.CreatedAt)
}

func sortNewestFirst[T any](items []T, msg func(T) Message) {
	sort.Slice(items, func(i, j int) bool {
		a, b := msg(items[i]), msg(items[j])
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

func copyDelivery(d *Delivery) Delivery {
	out := *d
	if d.ReadAt != nil {
		t := *d.ReadAt
		out.ReadAt = &t
	}
	return out
}
