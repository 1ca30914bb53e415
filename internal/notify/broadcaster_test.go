package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlstream/internal/metrics"
)

func requireSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "channel closed instead of signaled")
	case <-time.After(5 * time.Second):
		t.Fatal("no signal")
	}
}

func requireClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("channel not closed")
		}
	}
}

func TestBroadcaster_NotifyWakesEverySubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	subs := []<-chan struct{}{b.Subscribe(ctx), b.Subscribe(ctx), b.Subscribe(ctx)}
	assert.Equal(t, 3, b.Subscribers())

	b.Notify()
	for _, ch := range subs {
		requireSignal(t, ch)
	}
}

func TestBroadcaster_SignalsCoalesce(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch := b.Subscribe(context.Background())
	for i := 0; i < 5; i++ {
		b.Notify()
	}

	requireSignal(t, ch)
	select {
	case <-ch:
		t.Fatal("expected coalesced signals")
	default:
	}
}

func TestBroadcaster_ContextEndsSubscription(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	requireClosed(t, ch)
	assert.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 10*time.Millisecond)

	// Later notifies must not touch the closed channel.
	b.Notify()
}

func TestBroadcaster_CloseClosesSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)

	ch := b.Subscribe(context.Background())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	requireClosed(t, ch)

	// Subscribing after Close yields a closed channel; Notify is a no-op.
	requireClosed(t, b.Subscribe(context.Background()))
	b.Notify()
}

func TestBroadcaster_ConcurrentUse(t *testing.T) {
	b := NewBroadcaster(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			b.Subscribe(ctx)
			cancel()
		}()
		go func() {
			defer wg.Done()
			b.Notify()
		}()
	}
	wg.Wait()
	require.NoError(t, b.Close())
}

func TestBroadcaster_CountsSignals(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	before := promtestutil.ToFloat64(metrics.ChangeSignalsTotal)
	b.Notify()
	b.Notify()
	assert.Equal(t, before+2, promtestutil.ToFloat64(metrics.ChangeSignalsTotal))
}
