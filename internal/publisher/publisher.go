// Package publisher fans out ControlPlaneState snapshots to every
// subscribed event stream after each successful store mutation.
package publisher

import (
	"sync"

	"github.com/flowmesh/controlplane/internal/metrics"
	"github.com/flowmesh/controlplane/internal/store"
)

// Snapshot is one immutable, self-consistent projection of the store,
// tagged with the nonce it was published under.
type Snapshot struct {
	Nonce                uint64
	Connections          []store.Connection
	Workers              []store.Worker
	PipelineDefinitions  []store.PipelineDefinition
	SegmentDefinitions   []store.SegmentDefinition
	PipelineInstances    []store.PipelineInstance
	SegmentInstances     []store.SegmentInstance
	ManifoldInstances    []store.ManifoldInstance
	SubscriptionServices []store.SubscriptionService
}

// snapshotOf projects the full state out of s with one selector call per
// slice. Each call takes the store's read lock on its own, so the slices
// agree with each other only when no mutation runs between the calls;
// internal/server holds its own mutex across every mutation and every
// Publish and Subscribe call for that reason.
func snapshotOf(s *store.Store, nonce uint64) Snapshot {
	return Snapshot{
		Nonce:                nonce,
		Connections:          s.SelectAllConnections(),
		Workers:              s.SelectAllWorkers(),
		PipelineDefinitions:  s.SelectAllPipelineDefinitions(),
		SegmentDefinitions:   s.SelectAllSegmentDefinitions(),
		PipelineInstances:    s.SelectAllPipelineInstances(),
		SegmentInstances:     s.SelectAllSegmentInstances(),
		ManifoldInstances:    s.SelectAllManifoldInstances(),
		SubscriptionServices: s.SelectAllSubscriptionServices(),
	}
}

// subscriber holds one size-1 buffered channel. Publish never blocks on a
// slow reader: if the channel already holds an undelivered snapshot, that
// snapshot is dropped and replaced, so only the most recent state ever
// needs to reach the subscriber, per the delivery contract.
type subscriber struct {
	ch chan Snapshot
}

// Publisher maintains the current ControlPlaneState nonce and the set of
// live subscribers, one per active event stream.
type Publisher struct {
	mu    sync.Mutex
	nonce uint64
	subs  map[uint64]*subscriber
	nextSubID uint64
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{subs: make(map[uint64]*subscriber)}
}

// Subscription is a live handle a caller drains via Snapshots() and
// releases via Close() when its stream ends.
type Subscription struct {
	id uint64
	p  *Publisher
	ch <-chan Snapshot
}

// Snapshots returns the channel to read published snapshots from.
func (sub *Subscription) Snapshots() <-chan Snapshot { return sub.ch }

// Close releases the subscription; further publishes are not delivered
// to it.
func (sub *Subscription) Close() {
	sub.p.mu.Lock()
	defer sub.p.mu.Unlock()

	delete(sub.p.subs, sub.id)
}

// Subscribe registers a new subscriber and immediately seeds it with the
// current snapshot of s, so a newly opened stream never waits for the
// next mutation to learn the cluster's state.
func (p *Publisher) Subscribe(s *store.Store) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++

	sub := &subscriber{ch: make(chan Snapshot, 1)}
	p.subs[id] = sub

	sub.ch <- snapshotOf(s, p.nonce)

	return &Subscription{id: id, p: p, ch: sub.ch}
}

// Publish takes a fresh snapshot of s under a strictly increasing nonce
// and delivers it to every live subscriber, coalescing on any subscriber
// that hasn't drained its previous snapshot yet.
func (p *Publisher) Publish(s *store.Store) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nonce++
	snap := snapshotOf(s, p.nonce)
	metrics.SnapshotNonce.Set(float64(p.nonce))
	metrics.WorkersActive.Set(float64(len(snap.Workers)))
	metrics.PipelineInstancesActive.Set(float64(len(snap.PipelineInstances)))

	for _, sub := range p.subs {
		select {
		case sub.ch <- snap:
		default:
			// Drain the stale snapshot and replace it; the subscriber
			// only ever needs the latest one.
			select {
			case <-sub.ch:
			default:
			}

			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// Nonce returns the last nonce published.
func (p *Publisher) Nonce() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.nonce
}
