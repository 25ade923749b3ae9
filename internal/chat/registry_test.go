package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	conn := &fakeConn{}

	_, ok := r.Lookup("bob")
	req.False(ok)

	r.Register("bob", conn)
	got, ok := r.Lookup("bob")
	req.True(ok)
	req.Same(conn, got)
	req.Equal(1, r.Len())
}

func TestRegistry_RegisterReplacesEarlierConnection(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	first, second := &fakeConn{}, &fakeConn{}

	r.Register("bob", first)
	r.Register("bob", second)

	got, ok := r.Lookup("bob")
	req.True(ok)
	req.Same(second, got)

	// Closing the replaced connection must not evict the newer one.
	req.Empty(r.Remove(first))
	got, ok = r.Lookup("bob")
	req.True(ok)
	req.Same(second, got)
}

func TestRegistry_RemoveByIdentity(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	conn, other := &fakeConn{}, &fakeConn{}

	// One connection registered under two ids
	r.Register("alice", conn)
	r.Register("alice-2", conn)
	r.Register("bob", other)

	removed := r.Remove(conn)
	req.ElementsMatch([]string{"alice", "alice-2"}, removed)

	_, ok := r.Lookup("alice")
	req.False(ok)
	_, ok = r.Lookup("bob")
	req.True(ok)
	req.Equal(1, r.Len())
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	r.Register("bob", &fakeConn{})

	req.Empty(r.Remove(&fakeConn{}))
	req.Equal(1, r.Len())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := &fakeConn{}
			r.Register("user", conn)
			r.Lookup("user")
			r.Remove(conn)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, r.Len(), 1)
}
