package graph

import (
	"github.com/hrygo/constellation/store"
)

// Connection is one builder input: a connection record plus the
// relationship kind it has with the subject.
type Connection struct {
	Record store.ConnectionRecord
	Kind   EdgeKind
}

// Build assembles a graph around the subject node. One node is added per
// distinct connection DID; records without a DID are skipped. A
// subject-to-connection edge is added for every mutual-kind connection.
// Extra edges (for example verified second-degree mutuals) are applied
// last and dropped when either endpoint is missing.
func Build(subject Node, connections []Connection, extraEdges []Edge) *Graph {
	g := NewGraph()
	g.CentralID = subject.ID
	g.AddNode(subject)

	for _, conn := range connections {
		record := conn.Record
		if record.DID == "" {
			continue
		}
		// First record per DID wins; repeats would duplicate the
		// subject edge. This also rejects the subject itself showing
		// up in its own connection list.
		added := g.AddNode(Node{
			ID:          record.DID,
			DisplayName: record.DisplayName,
			Handle:      record.Handle,
		})
		if !added {
			continue
		}
		if conn.Kind == EdgeMutual {
			g.AddEdge(subject.ID, record.DID, EdgeMutual)
		}
	}

	for _, edge := range extraEdges {
		g.AddEdge(edge.Source, edge.Target, edge.Kind)
	}

	// Every edge must reference two existing nodes. AddEdge already
	// guarantees this; keep the final filter so a malformed graph can
	// never reach the detector.
	valid := g.edges[:0]
	for _, edge := range g.edges {
		if g.HasNode(edge.Source) && g.HasNode(edge.Target) {
			valid = append(valid, edge)
		}
	}
	g.edges = valid

	return g
}
