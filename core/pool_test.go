package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	agentID string
	closed  atomic.Bool
}

func (c *stubConn) AgentID() string                                  { return c.agentID }
func (c *stubConn) Deliver(ctx context.Context, msg Message) error   { return nil }
func (c *stubConn) Close() error                                     { c.closed.Store(true); return nil }

func countingDialer(dials *atomic.Int32) Dialer {
	return func(ctx context.Context, p Participant) (ParticipantConn, error) {
		dials.Add(1)
		return &stubConn{agentID: p.AgentID}, nil
	}
}

func TestPool_AcquireAndRelease(t *testing.T) {
	var dials atomic.Int32
	pool := NewPool(countingDialer(&dials))
	defer pool.Close()

	p := Participant{AgentID: "alice", Role: "worker"}
	conn, err := pool.Acquire(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "alice", conn.AgentID())
	assert.Equal(t, int32(1), dials.Load())

	pool.Release("worker", conn)

	active, idle := pool.Stats()
	assert.Equal(t, 0, active["worker"])
	assert.Equal(t, 1, idle["worker"])
}

func TestPool_ReusesIdleConnectionForSameAgent(t *testing.T) {
	var dials atomic.Int32
	pool := NewPool(countingDialer(&dials))
	defer pool.Close()

	p := Participant{AgentID: "alice", Role: "worker"}
	conn, err := pool.Acquire(context.Background(), p)
	require.NoError(t, err)
	pool.Release("worker", conn)

	again, err := pool.Acquire(context.Background(), p)
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, int32(1), dials.Load())
}

func TestPool_CapPerType(t *testing.T) {
	var dials atomic.Int32
	pool := NewPool(countingDialer(&dials), func(o *PoolOptions) { o.MaxPerType = 1 })
	defer pool.Close()

	_, err := pool.Acquire(context.Background(), Participant{AgentID: "alice", Role: "worker"})
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background(), Participant{AgentID: "bob", Role: "worker"})
	assert.ErrorContains(t, err, "connection cap reached")

	// A different participant type has its own cap.
	_, err = pool.Acquire(context.Background(), Participant{AgentID: "carol", Role: "reviewer"})
	assert.NoError(t, err)
}

func TestPool_DialFailureReleasesSlot(t *testing.T) {
	fail := true
	dialer := func(ctx context.Context, p Participant) (ParticipantConn, error) {
		if fail {
			return nil, fmt.Errorf("boom")
		}
		return &stubConn{agentID: p.AgentID}, nil
	}
	pool := NewPool(dialer, func(o *PoolOptions) { o.MaxPerType = 1 })
	defer pool.Close()

	_, err := pool.Acquire(context.Background(), Participant{AgentID: "alice", Role: "worker"})
	require.Error(t, err)

	// The failed dial must not leak the cap slot.
	fail = false
	_, err = pool.Acquire(context.Background(), Participant{AgentID: "alice", Role: "worker"})
	assert.NoError(t, err)
}

func TestPool_SweepEvictsIdleConnections(t *testing.T) {
	var dials atomic.Int32
	pool := NewPool(countingDialer(&dials), func(o *PoolOptions) { o.IdleTTL = 10 * time.Millisecond })
	defer pool.Close()

	conn, err := pool.Acquire(context.Background(), Participant{AgentID: "alice", Role: "worker"})
	require.NoError(t, err)
	pool.Release("worker", conn)

	assert.Equal(t, 0, pool.Sweep(time.Now()))
	assert.Equal(t, 1, pool.Sweep(time.Now().Add(time.Second)))

	_, idle := pool.Stats()
	assert.Equal(t, 0, idle["worker"])
	assert.True(t, conn.(*stubConn).closed.Load())
}

func TestPool_CloseRejectsAcquire(t *testing.T) {
	var dials atomic.Int32
	pool := NewPool(countingDialer(&dials))

	conn, err := pool.Acquire(context.Background(), Participant{AgentID: "alice", Role: "worker"})
	require.NoError(t, err)
	pool.Release("worker", conn)

	require.NoError(t, pool.Close())
	assert.True(t, conn.(*stubConn).closed.Load())

	_, err = pool.Acquire(context.Background(), Participant{AgentID: "bob", Role: "worker"})
	assert.ErrorContains(t, err, "pool is closed")
}
