package store

// kind identifies which per-entity-kind id counter a fresh id is drawn
// from. Ids are unique within their own kind, not globally, per spec.md
// §3 invariant 6 — a Connection and a Worker may legitimately carry the
// same numeric id at the same time.
type kind int

const (
	kindConnection kind = iota
	kindWorker
	kindPipelineDefinition
	kindSegmentDefinition
	kindPipelineInstance
	kindSegmentInstance
	kindManifoldInstance
	kindSubscriptionService
	numKinds
)

// idAllocator holds one monotonically increasing counter per entity kind.
// Every caller already holds Store.mu, so the counters need no locking of
// their own.
type idAllocator struct {
	counters [numKinds]uint64
}

// next returns the next id for k, starting at 1.
func (a *idAllocator) next(k kind) uint64 {
	a.counters[k]++

	return a.counters[k]
}
