// Package graph provides social-graph construction and community detection.
package graph

// EdgeKind is the relationship type carried by an edge.
type EdgeKind string

const (
	// EdgeFollows is a one-directional follow.
	EdgeFollows EdgeKind = "follows"
	// EdgeMutual is a bidirectional follow.
	EdgeMutual EdgeKind = "mutual"
)

// Weight returns the edge weight used by the community detector.
// Mutual relationships count twice as heavily as plain follows.
func (k EdgeKind) Weight() int {
	if k == EdgeMutual {
		return 2
	}
	return 1
}

// Node represents one unique account in the graph.
type Node struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Handle      string `json:"handle"`
}

// Edge connects two nodes. Undirected in effect but stored as
// (source, target, kind).
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
	Weight int      `json:"weight"`
}

// Graph is a node/edge structure with a designated central node.
// Node order is insertion order; the community detector's output depends
// on it, so builders must insert deterministically.
type Graph struct {
	CentralID string

	nodes     []Node
	nodeIndex map[string]int
	edges     []Edge
	// adjacency maps each node to the multiset of its weighted neighbors:
	// an edge of weight w inserts the neighbor w times, so higher-weight
	// relationships count more heavily toward shared-neighbor overlap.
	adjacency map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodeIndex: make(map[string]int),
		adjacency: make(map[string][]string),
	}
}

// AddNode adds a node, deduplicating by ID. Returns false for duplicates
// and nodes without an ID.
func (g *Graph) AddNode(node Node) bool {
	if node.ID == "" {
		return false
	}
	if _, ok := g.nodeIndex[node.ID]; ok {
		return false
	}
	g.nodeIndex[node.ID] = len(g.nodes)
	g.nodes = append(g.nodes, node)
	return true
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodeIndex[id]
	return ok
}

// AddEdge adds an edge between two existing nodes. Edges referencing a
// missing endpoint are dropped and false is returned.
func (g *Graph) AddEdge(source, target string, kind EdgeKind) bool {
	if !g.HasNode(source) || !g.HasNode(target) {
		return false
	}
	if source == target {
		return false
	}
	weight := kind.Weight()
	g.edges = append(g.edges, Edge{Source: source, Target: target, Kind: kind, Weight: weight})
	for i := 0; i < weight; i++ {
		g.adjacency[source] = append(g.adjacency[source], target)
		g.adjacency[target] = append(g.adjacency[target], source)
	}
	return true
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// CommunityMetrics are per-community quality measures.
type CommunityMetrics struct {
	// Density is actual intra-community edges over possible pairs.
	Density float64 `json:"density"`
	// Cohesion is mutual-type intra-community edges over total
	// intra-community edges.
	Cohesion float64 `json:"cohesion"`
}

// Community is one partition cell produced by the detector.
type Community struct {
	ID      int      `json:"id"`
	Members []string `json:"members"`
	// CentralNodes are the top-3 members by intra-community weighted
	// degree, descending.
	CentralNodes []string         `json:"centralNodes"`
	Metrics      CommunityMetrics `json:"metrics"`
}
