package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnisbouncer/bouncer/internal/qid"
)

func TestAddUpstreams_DedupesByURI(t *testing.T) {
	p := New(time.Minute)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 2, StickySessions: 2}})
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 99, StickySessions: 99}, {URI: "http://b", Connections: 1, StickySessions: 1}})

	ups := p.Upstreams()
	assert.Len(t, ups, 2)
	for _, u := range ups {
		if u.URI == "http://a" {
			assert.Equal(t, int64(2), u.Connections)
		}
	}
}

func TestRemoveURIs_DropsMatchingServers(t *testing.T) {
	p := New(time.Minute)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 1, StickySessions: 1}, {URI: "http://b", Connections: 1, StickySessions: 1}})
	p.RemoveURIs([]string{"http://a"})

	ups := p.Upstreams()
	require.Len(t, ups, 1)
	assert.Equal(t, "http://b", ups[0].URI)
}

func TestAcquireCacheLoadPermit_PicksLeastConnections(t *testing.T) {
	p := New(time.Minute)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 1, StickySessions: 1}})

	permit, ok := p.AcquireCacheLoadPermit()
	require.True(t, ok)
	assert.Equal(t, "http://a", permit.URI())
	// cache-load permits don't hold a real slot: Release is a no-op and a
	// regular connection permit can still be acquired afterwards.
	permit.Release()

	connPermit, ok := p.AcquireConnectionPermit(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, "http://a", connPermit.URI())
	connPermit.Release()
}

func TestAcquireConnectionPermit_FullUpstreamTimesOut(t *testing.T) {
	p := New(time.Minute)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 1, StickySessions: 1}})

	first, ok := p.AcquireConnectionPermit(context.Background(), time.Second)
	require.True(t, ok)
	defer first.Release()

	_, ok = p.AcquireConnectionPermit(context.Background(), 50*time.Millisecond)
	assert.False(t, ok, "second acquire should time out while the only upstream is full")
}

func TestAcquireConnectionPermit_ReleaseFreesSlotForWaiter(t *testing.T) {
	p := New(time.Minute)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 1, StickySessions: 1}})

	first, ok := p.AcquireConnectionPermit(context.Background(), time.Second)
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		second, ok := p.AcquireConnectionPermit(context.Background(), 2*time.Second)
		if ok {
			second.Release()
		}
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	first.Release()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter never acquired the freed slot")
	}
}

func TestAcquireConnectionPermit_EmptyPool(t *testing.T) {
	p := New(time.Minute)
	_, ok := p.AcquireConnectionPermit(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)
}

func TestAcquireStickySessionPermit_NewBindingThenReuse(t *testing.T) {
	p := New(time.Minute)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 5, StickySessions: 5}})
	id := qid.New()

	permit, ok := p.AcquireStickySessionPermit(context.Background(), id, time.Second)
	require.True(t, ok)
	assert.Equal(t, "http://a", permit.URI())
	permit.Release()

	permit2, ok := p.AcquireStickySessionPermit(context.Background(), id, time.Second)
	require.True(t, ok)
	assert.Equal(t, "http://a", permit2.URI())
	permit2.Release()
}

func TestAcquireStickySessionPermit_BoundUpstreamFullDoesNotRoam(t *testing.T) {
	p := New(time.Minute)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 1, StickySessions: 5}, {URI: "http://b", Connections: 5, StickySessions: 5}})
	id := qid.New()

	first, ok := p.AcquireStickySessionPermit(context.Background(), id, time.Second)
	require.True(t, ok)
	require.Equal(t, "http://a", first.URI())

	_, ok = p.AcquireStickySessionPermit(context.Background(), id, 10*time.Millisecond)
	assert.False(t, ok, "bound upstream is full: must not roam to http://b")
}

func TestExpireStickySessions_RemovesOldEntries(t *testing.T) {
	p := New(10 * time.Millisecond)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 5, StickySessions: 5}})
	id := qid.New()

	permit, ok := p.AcquireStickySessionPermit(context.Background(), id, time.Second)
	require.True(t, ok)
	permit.Release()

	time.Sleep(30 * time.Millisecond)
	expired := p.ExpireStickySessions()
	assert.Contains(t, expired, id)

	_, ok = p.AcquireStickySessionPermit(context.Background(), id, 10*time.Millisecond)
	assert.True(t, ok, "expired id should be free to bind again, possibly to a new server")
}

func TestRemoveStickySession_ManualEviction(t *testing.T) {
	p := New(time.Minute)
	p.AddUpstreams([]Upstream{{URI: "http://a", Connections: 5, StickySessions: 5}})
	id := qid.New()

	permit, ok := p.AcquireStickySessionPermit(context.Background(), id, time.Second)
	require.True(t, ok)
	permit.Release()

	p.RemoveStickySession(id)

	ups := p.Upstreams()
	require.Len(t, ups, 1)
}
