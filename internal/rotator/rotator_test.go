package rotator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnisbouncer/bouncer/internal/config"
	"github.com/omnisbouncer/bouncer/internal/qid"
	"github.com/omnisbouncer/bouncer/internal/queuectl"
	"github.com/omnisbouncer/bouncer/internal/store"
	"github.com/omnisbouncer/bouncer/internal/upstream"
)

func newTestRotator(t *testing.T, cfg *config.Config) (*Rotator, *queuectl.Control, *upstream.Pool) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sc, err := store.New(rdb, "rotator-test")
	require.NoError(t, err)
	control, err := queuectl.New(sc)
	require.NoError(t, err)
	t.Cleanup(control.Close)

	cap5, err := store.ParseCapacity(5)
	require.NoError(t, err)
	require.NoError(t, control.Init(t.Context(), false, cap5))

	pool := upstream.New(10 * time.Millisecond)
	pool.AddUpstreams([]upstream.Upstream{{URI: "http://a", Connections: 5, StickySessions: 5}})

	r := New(cfg, control, pool, WithInterval(20*time.Millisecond))
	return r, control, pool
}

func TestRun_StopsCleanlyOnContextCancel(t *testing.T) {
	cfg := &config.Config{Locales: []string{"en"}, QueueRotationEnabled: true}
	r, _, _ := newTestRotator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestTick_ExpiresStickySessionsAndRotatesQueue(t *testing.T) {
	cfg := &config.Config{Locales: []string{"en"}, QueueRotationEnabled: true}
	r, control, pool := newTestRotator(t, cfg)

	id := qid.New()
	permit, ok := pool.AcquireStickySessionPermit(context.Background(), id, time.Second)
	require.True(t, ok)
	permit.Release()

	_, err := control.IDPosition(t.Context(), qid.New(), true)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond) // let the sticky entry cross its 10ms expiry
	r.tick(context.Background())

	_, stillSticky := pool.AcquireStickySessionPermit(context.Background(), id, 5*time.Millisecond)
	assert.True(t, stillSticky, "an expired sticky id should be free to rebind immediately")
}

func TestQueueTasks_SkipsRotationWhenDisabled(t *testing.T) {
	cfg := &config.Config{Locales: []string{"en"}, QueueRotationEnabled: false}
	r, control, _ := newTestRotator(t, cfg)

	id := qid.New()
	_, err := control.IDPosition(t.Context(), id, true)
	require.NoError(t, err)

	// With rotation disabled, queueTasks must not touch RotateFull — the
	// entry stays exactly where IDPosition placed it.
	r.queueTasks(context.Background())

	res, err := control.IDPosition(t.Context(), id, false)
	require.NoError(t, err)
	assert.Equal(t, store.InStore, res.Position.Kind)
}
