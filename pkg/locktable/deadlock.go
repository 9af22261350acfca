package locktable

import "github.com/kavindu-dev/distribtx/pkg/txid"

// waitForGraph is a directed graph of "waits-for" edges built fresh from
// the current lock queues each time a deadlock check is needed: an edge
// A -> B means transaction A is waiting on a resource held by B.
type waitForGraph struct {
	edges map[txid.ID]map[txid.ID]struct{}
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{edges: make(map[txid.ID]map[txid.ID]struct{})}
}

func (g *waitForGraph) addNode(id txid.ID) {
	if _, ok := g.edges[id]; !ok {
		g.edges[id] = make(map[txid.ID]struct{})
	}
}

func (g *waitForGraph) addEdge(from, to txid.ID) {
	g.addNode(from)
	g.addNode(to)
	g.edges[from][to] = struct{}{}
}

// buildFromQueues adds an edge from each entry's owners to the owners of
// the entry immediately ahead of it, for every resource queue, so that
// later entries wait on earlier ones exactly as the lock table would
// serve them.
func (g *waitForGraph) buildFromQueues(queues map[string][]*resourceLock) {
	for _, queue := range queues {
		var previousOwners []txid.ID
		for _, lock := range queue {
			for _, owner := range lock.owners {
				g.addNode(owner)
			}
			for _, owner := range lock.owners {
				for _, prev := range previousOwners {
					g.addEdge(owner, prev)
				}
			}
			previousOwners = lock.owners
		}
	}
}

// wouldCauseDeadlock reports whether transaction id joining resource's
// wait queue (behind its current owners) would create a cycle in the
// waits-for graph.
func (g *waitForGraph) wouldCauseDeadlock(id txid.ID, resourceOwners []txid.ID) bool {
	for _, owner := range resourceOwners {
		if owner == id {
			continue
		}
		g.addEdge(id, owner)
	}
	return g.hasCycle()
}

func (g *waitForGraph) hasCycle() bool {
	visited := make(map[txid.ID]bool)
	onStack := make(map[txid.ID]bool)

	var visit func(node txid.ID) bool
	visit = func(node txid.ID) bool {
		if onStack[node] {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		onStack[node] = true
		for neighbor := range g.edges[node] {
			if visit(neighbor) {
				return true
			}
		}
		onStack[node] = false
		return false
	}

	for node := range g.edges {
		if !visited[node] {
			if visit(node) {
				return true
			}
		}
	}
	return false
}
