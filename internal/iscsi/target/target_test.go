package target_test

import (
	"testing"

	"github.com/istgtd/istgtd/internal/iscsi/target"
	"github.com/istgtd/istgtd/pkg/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLookupRoundTrip(t *testing.T) {
	r := target.NewRegistry(nil)
	tg := &target.Target{Name: "iqn.test.target", Alias: "disk0", Store: blockstore.NewMemoryStore(8, 512)}
	require.NoError(t, r.Add(tg))

	got, err := r.Lookup("iqn.test.target")
	require.NoError(t, err)
	assert.Same(t, tg, got)
}

func TestAddDuplicateNameFails(t *testing.T) {
	r := target.NewRegistry(nil)
	require.NoError(t, r.Add(&target.Target{Name: "iqn.a", Store: blockstore.NewMemoryStore(8, 512)}))

	err := r.Add(&target.Target{Name: "iqn.a", Store: blockstore.NewMemoryStore(8, 512)})
	assert.ErrorIs(t, err, target.ErrDuplicateTarget)
}

func TestLookupUnknownNameFails(t *testing.T) {
	r := target.NewRegistry(nil)
	_, err := r.Lookup("iqn.missing")
	assert.ErrorIs(t, err, target.ErrNotFound)
}

func TestRemoveRefusedWhenInUse(t *testing.T) {
	r := target.NewRegistry(func(name string) bool { return name == "iqn.a" })
	require.NoError(t, r.Add(&target.Target{Name: "iqn.a", Store: blockstore.NewMemoryStore(8, 512)}))

	err := r.Remove("iqn.a")
	assert.ErrorIs(t, err, target.ErrInUse)

	_, lookupErr := r.Lookup("iqn.a")
	assert.NoError(t, lookupErr, "refused removal must leave the target registered")
}

func TestRemoveSucceedsWhenNotInUse(t *testing.T) {
	r := target.NewRegistry(func(string) bool { return false })
	require.NoError(t, r.Add(&target.Target{Name: "iqn.a", Store: blockstore.NewMemoryStore(8, 512)}))

	require.NoError(t, r.Remove("iqn.a"))
	_, err := r.Lookup("iqn.a")
	assert.ErrorIs(t, err, target.ErrNotFound)
}

func TestListIsSortedByName(t *testing.T) {
	r := target.NewRegistry(nil)
	require.NoError(t, r.Add(&target.Target{Name: "iqn.zeta", Store: blockstore.NewMemoryStore(1, 512)}))
	require.NoError(t, r.Add(&target.Target{Name: "iqn.alpha", Store: blockstore.NewMemoryStore(1, 512)}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "iqn.alpha", list[0].Name)
	assert.Equal(t, "iqn.zeta", list[1].Name)
}

func TestCloseClosesEveryStore(t *testing.T) {
	r := target.NewRegistry(nil)
	s1 := blockstore.NewMemoryStore(1, 512)
	s2 := blockstore.NewMemoryStore(1, 512)
	require.NoError(t, r.Add(&target.Target{Name: "iqn.a", Store: s1}))
	require.NoError(t, r.Add(&target.Target{Name: "iqn.b", Store: s2}))

	assert.NoError(t, r.Close())

	_, err := s1.ReadAt(t.Context(), 0, 1)
	assert.ErrorIs(t, err, blockstore.ErrClosed)
	_, err = s2.ReadAt(t.Context(), 0, 1)
	assert.ErrorIs(t, err, blockstore.ErrClosed)
}
