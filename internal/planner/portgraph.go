package planner

import "sort"

// portGraph accumulates, per named port, the segment instance ids that
// end up producing into it (egress) or consuming from it (ingress), so
// the planner can populate each ManifoldInstance's requested ends after
// segment instances exist.
type portGraph struct {
	producerSegment map[string]string
	consumerSegment map[string]string
	instancesByName map[string][]uint64
}

func newPortGraph(segments []SegmentSpec) *portGraph {
	g := &portGraph{
		producerSegment: make(map[string]string),
		consumerSegment: make(map[string]string),
		instancesByName: make(map[string][]uint64),
	}

	for _, seg := range segments {
		for _, p := range seg.EgressPorts {
			g.producerSegment[p] = seg.Name
		}

		for _, p := range seg.IngressPorts {
			g.consumerSegment[p] = seg.Name
		}
	}

	return g
}

func (g *portGraph) recordInstance(segmentName string, instanceID uint64) {
	g.instancesByName[segmentName] = append(g.instancesByName[segmentName], instanceID)
}

func (g *portGraph) sortedPorts() []string {
	seen := make(map[string]struct{})

	for p := range g.producerSegment {
		seen[p] = struct{}{}
	}

	for p := range g.consumerSegment {
		seen[p] = struct{}{}
	}

	ports := make([]string, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}

	sort.Strings(ports)

	return ports
}

func (g *portGraph) requestedOutput(port string) []uint64 {
	return append([]uint64(nil), g.instancesByName[g.producerSegment[port]]...)
}

func (g *portGraph) requestedInput(port string) []uint64 {
	return append([]uint64(nil), g.instancesByName[g.consumerSegment[port]]...)
}
