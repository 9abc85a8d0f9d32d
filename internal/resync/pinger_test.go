package resync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rollcall/internal/broadcast"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

/* ---------------- Mock Publisher ---------------- */

type mockPublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (m *mockPublisher) Publish(e broadcast.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

/* ---------------- Tests ---------------- */

func TestPinger_RunOnce_PublishesResyncAndUpdatesMetrics(t *testing.T) {
	pub := &mockPublisher{}
	reg := metrics.NewRegistry()
	start := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	pinger := NewPinger(pub, DefaultConfig(), testclock.NewClock(start), logs.NewLogger(10, logs.DEBUG), reg)
	pinger.runOnce()

	require.Equal(t, 1, pub.count())
	assert.Equal(t, broadcast.RequestResync, pub.events[0].Kind)
	assert.Equal(t, start, pub.events[0].At)
	assert.Equal(t, int64(1), reg.Snapshot()[string(metrics.ResyncRequestsTotal)])
}

func TestPinger_Start_InitialDelayThenInterval(t *testing.T) {
	pub := &mockPublisher{}
	clk := testclock.NewClock(time.Now())
	pinger := NewPinger(pub, DefaultConfig(), clk, logs.NewLogger(10, logs.DEBUG), metrics.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pinger.Start(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, clk.WaitAdvance(9*time.Second, time.Second, 1))
	assert.Equal(t, 0, pub.count(), "nothing before the initial delay")

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, clk.WaitAdvance(99*time.Second, time.Second, 1))
	assert.Equal(t, 1, pub.count())

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPinger_Start_StopsOnContextCancel(t *testing.T) {
	pub := &mockPublisher{}
	pinger := NewPinger(pub, DefaultConfig(), testclock.NewClock(time.Now()), logs.NewLogger(10, logs.DEBUG), metrics.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pinger.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pinger did not stop")
	}
	assert.Equal(t, 0, pub.count())
}
