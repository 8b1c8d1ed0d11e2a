package topology

import (
	"sort"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// NodeChange pairs the two versions of a node present in consecutive snapshots.
type NodeChange struct {
	Previous models.Node `json:"previous"`
	Current  models.Node `json:"current"`
}

// EdgeChange pairs the two versions of an edge present in consecutive snapshots.
type EdgeChange struct {
	Previous models.Edge `json:"previous"`
	Current  models.Edge `json:"current"`
}

type NodesDiff struct {
	Add    []models.Node `json:"add"`
	Remove []models.Node `json:"remove"`
	Update []NodeChange  `json:"update"`
}

type EdgesDiff struct {
	Add    []models.Edge `json:"add"`
	Remove []models.Edge `json:"remove"`
	Update []EdgeChange  `json:"update"`
}

// GraphDiff is the difference between two snapshots.
type GraphDiff struct {
	NodesDiff NodesDiff `json:"nodesDiff"`
	EdgesDiff EdgesDiff `json:"edgesDiff"`
}

// DiffCounts summarises a GraphDiff for logs and metrics.
type DiffCounts struct {
	NodesAdded, NodesRemoved, NodesUpdated int
	EdgesAdded, EdgesRemoved, EdgesUpdated int
}

func (d GraphDiff) Counts() DiffCounts {
	return DiffCounts{
		NodesAdded:   len(d.NodesDiff.Add),
		NodesRemoved: len(d.NodesDiff.Remove),
		NodesUpdated: len(d.NodesDiff.Update),
		EdgesAdded:   len(d.EdgesDiff.Add),
		EdgesRemoved: len(d.EdgesDiff.Remove),
		EdgesUpdated: len(d.EdgesDiff.Update),
	}
}

// Empty reports whether nothing was added or removed. Updates do not count.
func (d GraphDiff) Empty() bool {
	c := d.Counts()
	return c.NodesAdded+c.NodesRemoved+c.EdgesAdded+c.EdgesRemoved == 0
}

// Clone returns a diff whose buckets and attribute maps are not shared with d.
func (d GraphDiff) Clone() GraphDiff {
	out := newGraphDiff()
	for _, n := range d.NodesDiff.Add {
		out.NodesDiff.Add = append(out.NodesDiff.Add, n.Clone())
	}
	for _, n := range d.NodesDiff.Remove {
		out.NodesDiff.Remove = append(out.NodesDiff.Remove, n.Clone())
	}
	for _, c := range d.NodesDiff.Update {
		out.NodesDiff.Update = append(out.NodesDiff.Update, NodeChange{Previous: c.Previous.Clone(), Current: c.Current.Clone()})
	}
	for _, e := range d.EdgesDiff.Add {
		out.EdgesDiff.Add = append(out.EdgesDiff.Add, e.Clone())
	}
	for _, e := range d.EdgesDiff.Remove {
		out.EdgesDiff.Remove = append(out.EdgesDiff.Remove, e.Clone())
	}
	for _, c := range d.EdgesDiff.Update {
		out.EdgesDiff.Update = append(out.EdgesDiff.Update, EdgeChange{Previous: c.Previous.Clone(), Current: c.Current.Clone()})
	}
	return out
}

func newGraphDiff() GraphDiff {
	return GraphDiff{
		NodesDiff: NodesDiff{Add: []models.Node{}, Remove: []models.Node{}, Update: []NodeChange{}},
		EdgesDiff: EdgesDiff{Add: []models.Edge{}, Remove: []models.Edge{}, Update: []EdgeChange{}},
	}
}

// ComputeDiff classifies every node and edge of current and previous as
// added, removed or updated. A nil previous means current is the first
// snapshot and everything in it is added.
func ComputeDiff(current models.GraphResult, previous *models.GraphResult) GraphDiff {
	diff := newGraphDiff()

	if previous == nil {
		for _, key := range sortedKeys(current.Nodes) {
			diff.NodesDiff.Add = append(diff.NodesDiff.Add, current.Nodes[key])
		}
		for _, id := range sortedKeys(current.Edges) {
			diff.EdgesDiff.Add = append(diff.EdgesDiff.Add, current.Edges[id])
		}
		return diff
	}

	nodes := indexNodes(current.Nodes)
	prevNodes := indexNodes(previous.Nodes)

	for _, id := range sortedKeys(prevNodes) {
		prev := prevNodes[id]
		if cur, ok := nodes[id]; ok {
			diff.NodesDiff.Update = append(diff.NodesDiff.Update, NodeChange{Previous: prev, Current: cur})
		} else {
			diff.NodesDiff.Remove = append(diff.NodesDiff.Remove, prev)
		}
	}
	for _, id := range sortedKeys(nodes) {
		if _, ok := prevNodes[id]; !ok {
			diff.NodesDiff.Add = append(diff.NodesDiff.Add, nodes[id])
		}
	}

	// Edges are keyed by their own id, not by endpoint pair.
	for _, id := range sortedKeys(previous.Edges) {
		prev := previous.Edges[id]
		if cur, ok := current.Edges[id]; ok {
			diff.EdgesDiff.Update = append(diff.EdgesDiff.Update, EdgeChange{Previous: prev, Current: cur})
		} else {
			diff.EdgesDiff.Remove = append(diff.EdgesDiff.Remove, prev)
		}
	}
	for _, id := range sortedKeys(current.Edges) {
		if _, ok := previous.Edges[id]; !ok {
			diff.EdgesDiff.Add = append(diff.EdgesDiff.Add, current.Edges[id])
		}
	}

	return diff
}

// indexNodes re-keys nodes by their own id, dropping nodes without one.
func indexNodes(in map[string]models.Node) map[string]models.Node {
	out := make(map[string]models.Node, len(in))
	for _, node := range in {
		if node.ID == "" {
			continue
		}
		out[node.ID] = node
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
