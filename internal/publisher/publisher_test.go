package publisher_test

import (
	"testing"

	"github.com/flowmesh/controlplane/internal/publisher"
	"github.com/flowmesh/controlplane/internal/store"
	"github.com/stretchr/testify/require"
)

func TestSubscribeSeedsCurrentSnapshot(t *testing.T) {
	s := store.New()
	s.AddConnection("peer")

	p := publisher.New()
	sub := p.Subscribe(s)
	defer sub.Close()

	snap := <-sub.Snapshots()
	require.Equal(t, uint64(0), snap.Nonce)
	require.Len(t, snap.Connections, 1)
}

func TestPublishIncrementsNonceMonotonically(t *testing.T) {
	s := store.New()
	p := publisher.New()

	sub := p.Subscribe(s)
	defer sub.Close()
	<-sub.Snapshots() // drain the seed snapshot

	s.AddConnection("a")
	p.Publish(s)

	first := <-sub.Snapshots()
	require.Equal(t, uint64(1), first.Nonce)

	s.AddConnection("b")
	p.Publish(s)

	second := <-sub.Snapshots()
	require.Greater(t, second.Nonce, first.Nonce)
}

func TestPublishCoalescesWhenSubscriberIsSlow(t *testing.T) {
	s := store.New()
	p := publisher.New()

	sub := p.Subscribe(s)
	defer sub.Close()
	<-sub.Snapshots() // drain the seed snapshot

	s.AddConnection("a")
	p.Publish(s)

	s.AddConnection("b")
	p.Publish(s)

	// The subscriber never drained the first publish; it must see only
	// the latest snapshot, with two connections.
	latest := <-sub.Snapshots()
	require.Len(t, latest.Connections, 2)

	select {
	case <-sub.Snapshots():
		t.Fatal("expected no further buffered snapshot")
	default:
	}
}

func TestCloseStopsFurtherDelivery(t *testing.T) {
	s := store.New()
	p := publisher.New()

	sub := p.Subscribe(s)
	<-sub.Snapshots()
	sub.Close()

	s.AddConnection("a")
	p.Publish(s) // must not panic or block despite the closed subscription
}
