// Package directory is the read-only view of the back office user base
// consumed by the notification audience resolver.
package directory

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by GetByID when the id is unknown or inactive.
	ErrNotFound = errors.New("recipient not found")
	// ErrUnavailable wraps any failure to reach the backing store.
	ErrUnavailable = errors.New("user directory unavailable")
)

// Recipient is a user that can receive notifications.
type Recipient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// Page selects the next Limit recipients with an id strictly greater than
// After. Implementations return recipients sorted by ascending id, using the
// same ordering for the sort and the After comparison. The Postgres and
// memory directories both use byte order.
type Page struct {
	After string
	Limit int
}

// Directory lists active recipients. Listing is keyset-paginated so callers
// can walk arbitrarily large directories in bounded memory.
type Directory interface {
	ListAll(ctx context.Context, page Page) ([]Recipient, error)
	ListByRoles(ctx context.Context, roles []string, page Page) ([]Recipient, error)
	GetByID(ctx context.Context, id string) (*Recipient, error)
}

const defaultPageLimit = 500

func (p Page) limit() int {
	if p.Limit <= 0 {
		return defaultPageLimit
	}
	return p.Limit
}
