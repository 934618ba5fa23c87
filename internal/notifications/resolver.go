package notifications

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/Syaminata/ticketaf-sub000/internal/directory"
)

const defaultResolveBatch = 500

// Resolver turns a Target into the distinct ids of its recipients.
type Resolver struct {
	dir     directory.Directory
	aliases map[string][]string
}

// NewResolver returns a Resolver over dir. aliases maps a role to synonyms
// that address the same audience, e.g. "driver" -> ["chauffeur"].
func NewResolver(dir directory.Directory, aliases map[string][]string) *Resolver {
	return &Resolver{dir: dir, aliases: aliases}
}

// Resolve materialises the whole recipient set. Prefer Stream for audiences
// that may be large.
func (r *Resolver) Resolve(ctx context.Context, t Target) ([]string, error) {
	ids := []string{}
	for batch, err := range r.Stream(ctx, t, defaultResolveBatch) {
		if err != nil {
			return nil, err
		}
		ids = append(ids, batch...)
	}
	return ids, nil
}

// Stream yields the recipients of t in batches of at most batchSize ids, in
// the directory's id order with no id repeated. The directory is paged by id
// so memory use is bounded by one page whatever the audience size.
func (r *Resolver) Stream(ctx context.Context, t Target, batchSize int) iter.Seq2[[]string, error] {
	if batchSize <= 0 {
		batchSize = defaultResolveBatch
	}
	return func(yield func([]string, error) bool) {
		switch t := t.(type) {
		case AllTarget:
			r.page(ctx, batchSize, yield, func(p directory.Page) ([]directory.Recipient, error) {
				return r.dir.ListAll(ctx, p)
			})
		case RoleTarget:
			roles := r.rolesFor(t.Role)
			r.page(ctx, batchSize, yield, func(p directory.Page) ([]directory.Recipient, error) {
				return r.dir.ListByRoles(ctx, roles, p)
			})
		case UserTarget:
			if err := r.lookup(ctx, t.UserID); err != nil {
				yield(nil, err)
				return
			}
			yield([]string{t.UserID}, nil)
		default:
			yield(nil, fmt.Errorf("%w: %T", ErrInvalidTarget, t))
		}
	}
}

func (r *Resolver) page(ctx context.Context, size int, yield func([]string, error) bool, list func(directory.Page) ([]directory.Recipient, error)) {
	last := ""
	first := true
	for {
		recipients, err := list(directory.Page{After: last, Limit: size})
		if err != nil {
			yield(nil, directoryErr(err))
			return
		}

		// Ids are compared for equality only: the directory's ordering may
		// follow a collation that differs from byte order.
		batch := make([]string, 0, len(recipients))
		for _, rec := range recipients {
			if !first && rec.ID == last {
				continue
			}
			batch = append(batch, rec.ID)
			last, first = rec.ID, false
		}
		if len(batch) == 0 {
			if len(recipients) >= size {
				yield(nil, directoryErr(fmt.Errorf("page after %q made no progress", last)))
			}
			return
		}
		if !yield(batch, nil) || len(recipients) < size {
			return
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
	}
}

func (r *Resolver) lookup(ctx context.Context, id string) error {
	_, err := r.dir.GetByID(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
	}
	if err != nil {
		return directoryErr(err)
	}
	return nil
}

func (r *Resolver) rolesFor(role string) []string {
	roles := append([]string{role}, r.aliases[role]...)
	slices.Sort(roles)
	return slices.Compact(roles)
}

func directoryErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
}
