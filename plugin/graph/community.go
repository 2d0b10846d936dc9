package graph

// maxPasses bounds the greedy local-search loop. Real social graphs
// converge in two or three passes.
const maxPasses = 10

// maxCentralNodes is how many central members each community reports.
const maxCentralNodes = 3

// DetectCommunities partitions the graph with greedy modularity
// optimization. Every node starts in its own singleton community; each
// pass visits the nodes in insertion order and moves a node to the
// neighbor community with the strictly highest positive modularity gain.
// The loop stops when a pass makes no move, when modularity stops
// improving, or after maxPasses. The best partition seen is returned.
//
// A graph with no nodes or no edges yields an empty list. Detection is
// deterministic for a fixed insertion order.
func DetectCommunities(g *Graph) []Community {
	if g.NodeCount() == 0 || g.EdgeCount() == 0 {
		return []Community{}
	}

	order := make([]string, 0, g.NodeCount())
	for _, node := range g.nodes {
		order = append(order, node.ID)
	}

	community := make(map[string]int, len(order))
	size := make(map[int]int, len(order))
	for i, id := range order {
		community[id] = i
		size[i] = 1
	}

	edgeCount := float64(g.EdgeCount())
	penaltyDenom := (2 * edgeCount) * (2 * edgeCount)

	weights := pairWeights(g)
	totalWeight := 0.0
	for _, edge := range g.edges {
		totalWeight += float64(edge.Weight)
	}

	bestQ := modularity(g, order, community, weights, totalWeight)
	bestPartition := snapshot(community)
	prevQ := bestQ

	for pass := 0; pass < maxPasses; pass++ {
		moves := 0
		for _, id := range order {
			current := community[id]

			// Weighted link count toward each neighbor community,
			// discovered in adjacency insertion order.
			links := make(map[int]float64)
			candidates := make([]int, 0, 4)
			for _, neighbor := range g.adjacency[id] {
				c := community[neighbor]
				if _, ok := links[c]; !ok && c != current {
					candidates = append(candidates, c)
				}
				links[c]++
			}

			bestGain := 0.0
			target := current
			for _, c := range candidates {
				gain := (links[c]-links[current])/edgeCount -
					float64(size[current]*size[c])/penaltyDenom
				if gain > bestGain {
					bestGain = gain
					target = c
				}
			}

			if target != current {
				community[id] = target
				size[current]--
				size[target]++
				moves++
			}
		}

		q := modularity(g, order, community, weights, totalWeight)
		if q > bestQ {
			bestQ = q
			bestPartition = snapshot(community)
		}
		if moves == 0 || q <= prevQ {
			break
		}
		prevQ = q
	}

	return assemble(g, order, bestPartition)
}

// pairWeights indexes edge weights by both endpoint orderings.
func pairWeights(g *Graph) map[string]map[string]float64 {
	weights := make(map[string]map[string]float64, g.NodeCount())
	add := func(a, b string, w float64) {
		if weights[a] == nil {
			weights[a] = make(map[string]float64)
		}
		weights[a][b] += w
	}
	for _, edge := range g.edges {
		add(edge.Source, edge.Target, float64(edge.Weight))
		add(edge.Target, edge.Source, float64(edge.Weight))
	}
	return weights
}

// modularity scores a partition: Q = (1/2m) Σ_{i≠j, same community}
// (A_ij − k_i·k_j/2m), with A_ij the edge weight between i and j, k_i
// the weighted degree, and m the total edge weight. Singleton
// partitions score zero.
func modularity(g *Graph, order []string, community map[string]int, weights map[string]map[string]float64, totalWeight float64) float64 {
	if totalWeight == 0 {
		return 0
	}
	twoM := 2 * totalWeight

	members := make(map[int][]string)
	groups := make([]int, 0)
	for _, id := range order {
		c := community[id]
		if _, ok := members[c]; !ok {
			groups = append(groups, c)
		}
		members[c] = append(members[c], id)
	}

	q := 0.0
	for _, c := range groups {
		ids := members[c]
		for _, i := range ids {
			ki := float64(len(g.adjacency[i]))
			for _, j := range ids {
				if i == j {
					continue
				}
				kj := float64(len(g.adjacency[j]))
				q += weights[i][j] - ki*kj/twoM
			}
		}
	}
	return q / twoM
}

func snapshot(community map[string]int) map[string]int {
	copied := make(map[string]int, len(community))
	for id, c := range community {
		copied[id] = c
	}
	return copied
}

// assemble converts a partition into the output shape: sequential
// community IDs assigned by first-member appearance, members in node
// insertion order, metrics and central nodes computed per community.
func assemble(g *Graph, order []string, partition map[string]int) []Community {
	idFor := make(map[int]int)
	communities := make([]Community, 0)
	for _, nodeID := range order {
		c := partition[nodeID]
		idx, ok := idFor[c]
		if !ok {
			idx = len(communities)
			idFor[c] = idx
			communities = append(communities, Community{ID: idx})
		}
		communities[idx].Members = append(communities[idx].Members, nodeID)
	}

	for i := range communities {
		fillMetrics(g, partition, &communities[i])
	}
	return communities
}

func fillMetrics(g *Graph, partition map[string]int, c *Community) {
	if len(c.Members) == 0 {
		return
	}
	group := partition[c.Members[0]]

	intraEdges := 0
	mutualEdges := 0
	for _, edge := range g.edges {
		if partition[edge.Source] != group || partition[edge.Target] != group {
			continue
		}
		intraEdges++
		if edge.Kind == EdgeMutual {
			mutualEdges++
		}
	}

	n := len(c.Members)
	if n > 1 {
		possible := float64(n*(n-1)) / 2
		c.Metrics.Density = float64(intraEdges) / possible
	}
	if intraEdges > 0 {
		c.Metrics.Cohesion = float64(mutualEdges) / float64(intraEdges)
	}

	c.CentralNodes = centralNodes(g, partition, group, c.Members)
}

// centralNodes picks up to three members by intra-community weighted
// degree, descending; ties keep member order.
func centralNodes(g *Graph, partition map[string]int, group int, members []string) []string {
	type ranked struct {
		id     string
		degree int
	}
	rankings := make([]ranked, 0, len(members))
	for _, id := range members {
		degree := 0
		for _, neighbor := range g.adjacency[id] {
			if partition[neighbor] == group {
				degree++
			}
		}
		rankings = append(rankings, ranked{id: id, degree: degree})
	}

	limit := maxCentralNodes
	if limit > len(rankings) {
		limit = len(rankings)
	}

	central := make([]string, 0, limit)
	used := make(map[int]bool, limit)
	for len(central) < limit {
		best := -1
		for i, r := range rankings {
			if used[i] {
				continue
			}
			if best == -1 || r.degree > rankings[best].degree {
				best = i
			}
		}
		used[best] = true
		central = append(central, rankings[best].id)
	}
	return central
}
