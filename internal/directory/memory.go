package directory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// MemoryDirectory is an in-process Directory used in tests and when the
// server runs without a database.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]Recipient
	err   error
}

func NewMemoryDirectory(recipients ...Recipient) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]Recipient)}
	for _, r := range recipients {
		d.users[r.ID] = r
	}
	return d
}

// Put adds or replaces a recipient.
func (d *MemoryDirectory) Put(r Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[r.ID] = r
}

// FailWith makes every subsequent call return err wrapped in ErrUnavailable.
// Pass nil to recover.
func (d *MemoryDirectory) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *MemoryDirectory) ListAll(ctx context.Context, page Page) ([]Recipient, error) {
	return d.list(ctx, page, func(Recipient) bool { return true })
}

func (d *MemoryDirectory) ListByRoles(ctx context.Context, roles []string, page Page) ([]Recipient, error) {
	return d.list(ctx, page, func(r Recipient) bool { return slices.Contains(roles, r.Role) })
}

func (d *MemoryDirectory) GetByID(ctx context.Context, id string) (*Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	r, ok := d.users[id]
	if !ok || !r.Active {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (d *MemoryDirectory) list(ctx context.Context, page Page, match func(Recipient) bool) ([]Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx); err != nil {
		return nil, err
	}

	matched := make([]Recipient, 0)
	for _, r := range d.users {
		if r.Active && r.ID > page.After && match(r) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if len(matched) > page.limit() {
		matched = matched[:page.limit()]
	}
	return matched, nil
}

func (d *MemoryDirectory) check(ctx context.Context) error {
	if d.err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, d.err)
	}
	return ctx.Err()
}
