package notifications

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syaminata/ticketaf-sub000/internal/directory"
)

// tenUsers is 3 drivers, 1 chauffeur, 5 clients and an inactive driver.
func tenUsers() *directory.MemoryDirectory {
	return directory.NewMemoryDirectory(
		directory.Recipient{ID: "u01", Role: "driver", Active: true},
		directory.Recipient{ID: "u02", Role: "client", Active: true},
		directory.Recipient{ID: "u03", Role: "driver", Active: true},
		directory.Recipient{ID: "u04", Role: "client", Active: true},
		directory.Recipient{ID: "u05", Role: "chauffeur", Active: true},
		directory.Recipient{ID: "u06", Role: "client", Active: true},
		directory.Recipient{ID: "u07", Role: "driver", Active: true},
		directory.Recipient{ID: "u08", Role: "client", Active: true},
		directory.Recipient{ID: "u09", Role: "client", Active: true},
		directory.Recipient{ID: "u10", Role: "driver", Active: false},
	)
}

// overlappingDirectory returns every page twice over, as a directory that
// matches one user through several role labels could.
type overlappingDirectory struct {
	*directory.MemoryDirectory
}

func (d overlappingDirectory) ListAll(ctx context.Context, p directory.Page) ([]directory.Recipient, error) {
	page, err := d.MemoryDirectory.ListAll(ctx, p)
	if err != nil {
		return nil, err
	}
	out := append(append([]directory.Recipient{}, page...), page...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func TestResolve_AllReturnsEveryActiveUserOnce(t *testing.T) {
	r := NewResolver(tenUsers(), nil)

	ids, err := r.Resolve(context.Background(), AllTarget{})
	require.NoError(t, err)
	assert.Len(t, ids, 9)
	assert.NotContains(t, ids, "u10")
}

func TestResolve_AllDeduplicatesOverlappingPages(t *testing.T) {
	r := NewResolver(overlappingDirectory{tenUsers()}, nil)

	var all []string
	for batch, err := range r.Stream(context.Background(), AllTarget{}, 3) {
		require.NoError(t, err)
		all = append(all, batch...)
	}
	assert.Equal(t, []string{"u01", "u02", "u03", "u04", "u05", "u06", "u07", "u08", "u09"}, all)
}

// orderedDirectory serves ids in the fixed order given, paging by position,
// the way a database sorting with a locale collation would.
type orderedDirectory struct {
	ids []string
}

func (d orderedDirectory) ListAll(_ context.Context, p directory.Page) ([]directory.Recipient, error) {
	start := 0
	if p.After != "" {
		start = slices.Index(d.ids, p.After) + 1
	}
	end := min(start+p.Limit, len(d.ids))
	out := make([]directory.Recipient, 0, end-start)
	for _, id := range d.ids[start:end] {
		out = append(out, directory.Recipient{ID: id, Role: "client", Active: true})
	}
	return out, nil
}

func (d orderedDirectory) ListByRoles(ctx context.Context, _ []string, p directory.Page) ([]directory.Recipient, error) {
	return d.ListAll(ctx, p)
}

func (d orderedDirectory) GetByID(_ context.Context, id string) (*directory.Recipient, error) {
	if !slices.Contains(d.ids, id) {
		return nil, directory.ErrNotFound
	}
	return &directory.Recipient{ID: id, Active: true}, nil
}

// stuckDirectory serves the first page normally, then answers every later
// page with repeat copies of the After id.
type stuckDirectory struct {
	orderedDirectory
	repeat int
}

func (d stuckDirectory) ListAll(ctx context.Context, p directory.Page) ([]directory.Recipient, error) {
	if p.After == "" {
		return d.orderedDirectory.ListAll(ctx, p)
	}
	out := make([]directory.Recipient, d.repeat)
	for i := range out {
		out[i] = directory.Recipient{ID: p.After, Active: true}
	}
	return out, nil
}

func TestResolve_KeepsIdsOutOfByteOrder(t *testing.T) {
	ids := []string{"alice", "Bob", "carol", "Dave", "erin"}
	r := NewResolver(orderedDirectory{ids: ids}, nil)

	var got []string
	for batch, err := range r.Stream(context.Background(), AllTarget{}, 2) {
		require.NoError(t, err)
		got = append(got, batch...)
	}
	assert.Equal(t, ids, got)

	roles, err := r.Resolve(context.Background(), RoleTarget{Role: "client"})
	require.NoError(t, err)
	assert.Equal(t, ids, roles)
}

func TestResolve_FullPageOfRepeatsIsAnError(t *testing.T) {
	r := NewResolver(stuckDirectory{orderedDirectory: orderedDirectory{ids: []string{"u01", "u02"}}, repeat: 2}, nil)

	var got []string
	var streamErr error
	for batch, err := range r.Stream(context.Background(), AllTarget{}, 2) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, batch...)
	}
	assert.Equal(t, []string{"u01", "u02"}, got)
	assert.ErrorIs(t, streamErr, ErrDirectoryUnavailable, "recipients must not be dropped silently")
}

func TestResolve_ShortPageOfRepeatsEndsStream(t *testing.T) {
	r := NewResolver(stuckDirectory{orderedDirectory: orderedDirectory{ids: []string{"u01", "u02"}}, repeat: 1}, nil)

	var got []string
	for batch, err := range r.Stream(context.Background(), AllTarget{}, 2) {
		require.NoError(t, err)
		got = append(got, batch...)
	}
	assert.Equal(t, []string{"u01", "u02"}, got)
}

func TestResolve_Role(t *testing.T) {
	r := NewResolver(tenUsers(), nil)

	ids, err := r.Resolve(context.Background(), RoleTarget{Role: "driver"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u01", "u03", "u07"}, ids)
}

func TestResolve_RoleWithAliases(t *testing.T) {
	r := NewResolver(tenUsers(), map[string][]string{"driver": {"chauffeur", "driver"}})

	ids, err := r.Resolve(context.Background(), RoleTarget{Role: "driver"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u01", "u03", "u05", "u07"}, ids)
}

func TestResolve_EmptyRoleIsNotAnError(t *testing.T) {
	r := NewResolver(tenUsers(), nil)

	ids, err := r.Resolve(context.Background(), RoleTarget{Role: "controller"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestResolve_User(t *testing.T) {
	r := NewResolver(tenUsers(), nil)

	ids, err := r.Resolve(context.Background(), UserTarget{UserID: "u04"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u04"}, ids)

	_, err = r.Resolve(context.Background(), UserTarget{UserID: "u-404"})
	assert.ErrorIs(t, err, ErrRecipientNotFound)

	_, err = r.Resolve(context.Background(), UserTarget{UserID: "u10"})
	assert.ErrorIs(t, err, ErrRecipientNotFound, "inactive users do not resolve")
}

func TestResolve_DirectoryUnavailable(t *testing.T) {
	dir := tenUsers()
	dir.FailWith(errors.New("connection reset"))
	r := NewResolver(dir, nil)

	for _, target := range []Target{AllTarget{}, RoleTarget{Role: "driver"}, UserTarget{UserID: "u01"}} {
		_, err := r.Resolve(context.Background(), target)
		assert.ErrorIs(t, err, ErrDirectoryUnavailable, "target %T", target)
		assert.NotErrorIs(t, err, ErrRecipientNotFound)
	}
}

func TestStream_PagesLargeDirectory(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	for i := 0; i < 1234; i++ {
		dir.Put(directory.Recipient{ID: fmt.Sprintf("user-%05d", i), Role: "client", Active: true})
	}
	r := NewResolver(dir, nil)

	batches, total := 0, 0
	seen := make(map[string]bool)
	for batch, err := range r.Stream(context.Background(), AllTarget{}, 100) {
		require.NoError(t, err)
		assert.LessOrEqual(t, len(batch), 100)
		for _, id := range batch {
			assert.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
		}
		batches++
		total += len(batch)
	}
	assert.Equal(t, 13, batches)
	assert.Equal(t, 1234, total)
}

func TestStream_StopsWhenConsumerBreaks(t *testing.T) {
	r := NewResolver(tenUsers(), nil)

	n := 0
	for range r.Stream(context.Background(), AllTarget{}, 2) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestStream_CancelledContext(t *testing.T) {
	r := NewResolver(tenUsers(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, AllTarget{})
	assert.ErrorIs(t, err, context.Canceled)
}
