package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildMutualGraph(nodes []string, edges [][2]string) *Graph {
	g := NewGraph()
	for _, id := range nodes {
		g.AddNode(Node{ID: id, Handle: id + ".example"})
	}
	for _, edge := range edges {
		g.AddEdge(edge[0], edge[1], EdgeMutual)
	}
	return g
}

func TestDetectCommunitiesEmptyGraph(t *testing.T) {
	require.Empty(t, DetectCommunities(NewGraph()))
}

func TestDetectCommunitiesNoEdges(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: "A"})
	g.AddNode(Node{ID: "B"})
	require.Empty(t, DetectCommunities(g))
}

func TestDetectCommunitiesSingleNode(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: "A"})
	require.Empty(t, DetectCommunities(g))
}

func TestDetectCommunitiesDenseCore(t *testing.T) {
	g := buildMutualGraph(
		[]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}, {"A", "D"}},
	)

	communities := DetectCommunities(g)
	require.Len(t, communities, 1)

	community := communities[0]
	require.Equal(t, 0, community.ID)
	require.Equal(t, []string{"A", "B", "C", "D"}, community.Members)
	require.Equal(t, []string{"A", "B", "C"}, community.CentralNodes)
	require.InDelta(t, 4.0/6.0, community.Metrics.Density, 1e-9)
	require.InDelta(t, 1.0, community.Metrics.Cohesion, 1e-9)
}

func TestDetectCommunitiesTwoTriangles(t *testing.T) {
	g := buildMutualGraph(
		[]string{"A", "B", "C", "D", "E", "F"},
		[][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}, {"D", "E"}, {"E", "F"}, {"D", "F"}},
	)

	communities := DetectCommunities(g)
	require.Len(t, communities, 2)

	require.Equal(t, []string{"A", "B", "C"}, communities[0].Members)
	require.Equal(t, []string{"D", "E", "F"}, communities[1].Members)
	for _, community := range communities {
		require.InDelta(t, 1.0, community.Metrics.Density, 1e-9)
		require.InDelta(t, 1.0, community.Metrics.Cohesion, 1e-9)
	}
}

func TestDetectCommunitiesFollowsPair(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: "A"})
	g.AddNode(Node{ID: "B"})
	g.AddEdge("A", "B", EdgeFollows)

	communities := DetectCommunities(g)
	require.Len(t, communities, 1)
	require.Equal(t, []string{"A", "B"}, communities[0].Members)
	require.InDelta(t, 1.0, communities[0].Metrics.Density, 1e-9)
	require.InDelta(t, 0.0, communities[0].Metrics.Cohesion, 1e-9)
}

func TestDetectCommunitiesDeterministic(t *testing.T) {
	build := func() *Graph {
		return buildMutualGraph(
			[]string{"A", "B", "C", "D", "E", "F"},
			[][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}, {"D", "E"}, {"E", "F"}, {"D", "F"}, {"C", "D"}},
		)
	}

	first := DetectCommunities(build())
	for i := 0; i < 5; i++ {
		require.Equal(t, first, DetectCommunities(build()))
	}
}

func TestDetectCommunitiesPartitionInvariant(t *testing.T) {
	g := buildMutualGraph(
		[]string{"A", "B", "C", "D", "E", "F", "G"},
		[][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}, {"D", "E"}, {"E", "F"}, {"A", "G"}},
	)

	communities := DetectCommunities(g)
	seen := map[string]int{}
	for _, community := range communities {
		require.NotEmpty(t, community.Members)
		for _, member := range community.Members {
			seen[member]++
		}
	}
	require.Len(t, seen, g.NodeCount())
	for _, node := range g.Nodes() {
		require.Equal(t, 1, seen[node.ID], "node %s must belong to exactly one community", node.ID)
	}
}
