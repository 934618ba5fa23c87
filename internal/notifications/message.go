package notifications

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SenderRole identifies who may author a message. Only admins send today.
type SenderRole string

const SenderAdmin SenderRole = "admin"

// ParseSenderRole defaults an empty role to admin and rejects anything else
// that is not a known sender role.
func ParseSenderRole(s string) (SenderRole, error) {
	switch SenderRole(s) {
	case "", SenderAdmin:
		return SenderAdmin, nil
	default:
		return "", fmt.Errorf("%w: unknown sender role %q", ErrInvalidMessage, s)
	}
}

// Kind classifies a message for display.
type Kind string

const (
	KindNormal       Kind = "normal"
	KindSystem       Kind = "system"
	KindAnnouncement Kind = "announcement"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindNormal:
		return KindNormal, nil
	case KindSystem, KindAnnouncement:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, s)
	}
}

// Message is one notification campaign. It is never mutated after creation.
type Message struct {
	ID             string
	Title          string
	Body           string
	Kind           Kind
	SenderRole     SenderRole
	SenderID       string
	Target         Target
	IdempotencyKey string
	CreatedAt      time.Time
}

func (m *Message) validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	if m.Target == nil {
		return fmt.Errorf("%w: target is required", ErrInvalidTarget)
	}
	if _, err := ParseTarget(string(m.Target.Type()), m.Target.Value()); err != nil {
		return err
	}
	kind, err := ParseKind(string(m.Kind))
	if err != nil {
		return err
	}
	role, err := ParseSenderRole(string(m.SenderRole))
	if err != nil {
		return err
	}
	m.Kind, m.SenderRole = kind, role
	return nil
}

type messageJSON struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Kind        Kind       `json:"type"`
	SenderRole  SenderRole `json:"sender_role"`
	SenderID    string     `json:"sender_id,omitempty"`
	TargetType  TargetType `json:"target_type"`
	TargetValue string     `json:"target_value,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:         m.ID,
		Title:      m.Title,
		Body:       m.Body,
		Kind:       m.Kind,
		SenderRole: m.SenderRole,
		SenderID:   m.SenderID,
		CreatedAt:  m.CreatedAt,
	}
	if m.Target != nil {
		out.TargetType = m.Target.Type()
		out.TargetValue = m.Target.Value()
	}
	return json.Marshal(out)
}

// Delivery is the per-recipient record of a message. ReadAt is set exactly
// once, when IsRead first becomes true.
type Delivery struct {
	MessageID string     `json:"message_id"`
	UserID    string     `json:"user_id"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// HistoryEntry pairs a recipient's delivery with its message.
type HistoryEntry struct {
	Message  Message  `json:"message"`
	Delivery Delivery `json:"delivery"`
}

// HistoryCursor is the keyset position of the last entry of a history page.
type HistoryCursor struct {
	CreatedAt time.Time
	MessageID string
}

func cursorOf(e HistoryEntry) *HistoryCursor {
	return &HistoryCursor{CreatedAt: e.Message.CreatedAt, MessageID: e.Message.ID}
}

// MessageSummary is a row of the admin history view.
type MessageSummary struct {
	Message   Message   `json:"message"`
	SentCount int       `json:"sent_count"`
	ReadCount int       `json:"read_count"`
	CreatedAt time.Time `json:"created_at"`
}

// ListParams pages the admin history view.
type ListParams struct {
	Limit  int
	Offset int
}

func (p *ListParams) normalize() {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}
