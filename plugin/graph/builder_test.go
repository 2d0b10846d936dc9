package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/constellation/store"
)

func TestBuildGraph(t *testing.T) {
	subject := Node{ID: "did:plc:subject", Handle: "subject.example"}
	connections := []Connection{
		{Record: store.ConnectionRecord{DID: "did:plc:alice", Handle: "alice.example"}, Kind: EdgeMutual},
		{Record: store.ConnectionRecord{DID: "did:plc:bob", Handle: "bob.example"}, Kind: EdgeMutual},
		{Record: store.ConnectionRecord{DID: "did:plc:carol", Handle: "carol.example"}, Kind: EdgeFollows},
		// Duplicate and invalid records are skipped.
		{Record: store.ConnectionRecord{DID: "did:plc:alice", Handle: "alice.example"}, Kind: EdgeMutual},
		{Record: store.ConnectionRecord{Handle: "no-did.example"}, Kind: EdgeMutual},
	}

	g := Build(subject, connections, nil)

	require.Equal(t, subject.ID, g.CentralID)
	require.Equal(t, 4, g.NodeCount())

	ids := make([]string, 0, g.NodeCount())
	for _, node := range g.Nodes() {
		ids = append(ids, node.ID)
	}
	require.Equal(t, []string{"did:plc:subject", "did:plc:alice", "did:plc:bob", "did:plc:carol"}, ids)

	// Edges only toward mutual connections; the duplicate alice
	// record adds neither node nor edge.
	require.Equal(t, 2, g.EdgeCount())
	for _, edge := range g.Edges() {
		require.Equal(t, EdgeMutual, edge.Kind)
		require.Equal(t, subject.ID, edge.Source)
	}
}

func TestBuildGraphExtraEdges(t *testing.T) {
	subject := Node{ID: "S", Handle: "s.example"}
	connections := []Connection{
		{Record: store.ConnectionRecord{DID: "A", Handle: "a.example"}, Kind: EdgeMutual},
		{Record: store.ConnectionRecord{DID: "B", Handle: "b.example"}, Kind: EdgeMutual},
	}
	extra := []Edge{
		{Source: "A", Target: "B", Kind: EdgeMutual},
		{Source: "A", Target: "Z", Kind: EdgeMutual}, // missing endpoint, dropped
		{Source: "A", Target: "A", Kind: EdgeFollows},
	}

	g := Build(subject, connections, extra)

	require.Equal(t, 3, g.NodeCount())
	require.Equal(t, 3, g.EdgeCount())
	for _, edge := range g.Edges() {
		require.True(t, g.HasNode(edge.Source))
		require.True(t, g.HasNode(edge.Target))
		require.NotEqual(t, edge.Source, edge.Target)
	}
}

func TestAddEdgeMissingEndpoint(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: "A"})
	require.False(t, g.AddEdge("A", "B", EdgeMutual))
	require.False(t, g.AddEdge("B", "A", EdgeFollows))
	require.Zero(t, g.EdgeCount())
}

func TestEdgeKindWeight(t *testing.T) {
	require.Equal(t, 1, EdgeFollows.Weight())
	require.Equal(t, 2, EdgeMutual.Weight())
}
