package topology

import (
	"errors"
	"sync"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

var (
	// ErrStaleSnapshot is returned when a snapshot answers an older request
	// than the last one applied.
	ErrStaleSnapshot = errors.New("stale topology snapshot")
	// ErrNodeLimitExceeded is returned when a snapshot reaches the manager's
	// node limit.
	ErrNodeLimitExceeded = errors.New("topology node limit exceeded")
)

// StorageManager holds the current and previous topology snapshot of one
// view, the diff between them and the view's expansion filters.
type StorageManager struct {
	mu sync.Mutex

	data     *models.GraphResult
	previous *models.GraphResult
	diff     *GraphDiff
	filters  *FilterSet

	maxNodes    int
	issued      uint64
	lastApplied uint64
}

// ManagerOption configures a StorageManager.
type ManagerOption func(*StorageManager)

// WithMaxNodes makes ApplyGraphData reject snapshots of n nodes or more.
// Zero disables the check.
func WithMaxNodes(n int) ManagerOption {
	return func(m *StorageManager) {
		m.maxNodes = n
	}
}

func NewStorageManager(opts ...ManagerOption) *StorageManager {
	m := &StorageManager{filters: NewFilterSet()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NextSequence issues the number a caller attaches to its next snapshot request.
func (m *StorageManager) NextSequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued++
	return m.issued
}

// SetGraphData stores data as the current snapshot. It counts as the
// newest request, so answers to requests issued before it become stale.
func (m *StorageManager) SetGraphData(data models.GraphResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = max(m.issued, m.lastApplied) + 1
	m.setGraphData(m.issued, data)
}

// ApplyGraphData stores data as the answer to request seq. Answers to
// requests older than the last applied one are rejected with
// ErrStaleSnapshot and leave the manager unchanged.
func (m *StorageManager) ApplyGraphData(seq uint64, data models.GraphResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq <= m.lastApplied {
		return ErrStaleSnapshot
	}
	if m.maxNodes > 0 && data.TotalNodes() >= m.maxNodes {
		return ErrNodeLimitExceeded
	}
	m.setGraphData(seq, data)
	return nil
}

func (m *StorageManager) setGraphData(seq uint64, data models.GraphResult) {
	if data.Nodes == nil {
		data.Nodes = map[string]models.Node{}
	}
	if data.Edges == nil {
		data.Edges = map[string]models.Edge{}
	}
	m.previous = m.data
	m.data = &data
	m.lastApplied = seq
	diff := ComputeDiff(*m.data, m.previous)
	m.diff = &diff
	m.updateFiltersFromAPIData()
}

// updateFiltersFromAPIData collapses every removed node so the filters
// never name nodes the reporter no longer returns.
func (m *StorageManager) updateFiltersFromAPIData() {
	if m.diff == nil {
		return
	}
	for _, node := range m.diff.NodesDiff.Remove {
		m.filters.Remove(node.ID, node.Type, m.findChildrenIDsOfType)
	}
}

// findChildrenIDsOfType scans the current snapshot for children of parentID.
func (m *StorageManager) findChildrenIDsOfType(parentID string, childType models.NodeType) []string {
	if m.data == nil {
		return nil
	}
	var out []string
	for _, id := range sortedKeys(m.data.Nodes) {
		node := m.data.Nodes[id]
		if node.ImmediateParentID == parentID && node.Type == childType {
			out = append(out, node.ID)
		}
	}
	return out
}

// APIData returns a copy of the current snapshot, or nil before the first one.
func (m *StorageManager) APIData() *models.GraphResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneGraph(m.data)
}

func (m *StorageManager) PreviousAPIData() *models.GraphResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneGraph(m.previous)
}

// Diff returns a copy of the diff produced by the last applied snapshot, or nil.
func (m *StorageManager) Diff() *GraphDiff {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.diff == nil {
		return nil
	}
	diff := m.diff.Clone()
	return &diff
}

func cloneGraph(g *models.GraphResult) *models.GraphResult {
	if g == nil {
		return nil
	}
	out := g.Clone()
	return &out
}

func (m *StorageManager) Filters() models.TopologyFilters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters.Filters()
}

// RestoreFilters replaces the expansion filters, e.g. from a checkpoint.
func (m *StorageManager) RestoreFilters(filters models.TopologyFilters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters.Restore(filters)
}

func (m *StorageManager) AddNodeToFilters(nodeID string, nodeType models.NodeType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters.Add(nodeID, nodeType)
}

// RemoveNodeFromFilters collapses nodeID and every expanded descendant
// found in the current snapshot.
func (m *StorageManager) RemoveNodeFromFilters(nodeID string, nodeType models.NodeType) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters.Remove(nodeID, nodeType, m.findChildrenIDsOfType)
}

func (m *StorageManager) IsNodeExpanded(nodeID string, nodeType models.NodeType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters.IsExpanded(nodeID, nodeType)
}

// TreeData builds the tree of the current snapshot. It is rebuilt on every call.
func (m *StorageManager) TreeData(opts TreeOptions) []models.TreeNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return []models.TreeNode{}
	}
	return BuildTree(m.data.Nodes, opts)
}

// NodesForIDs returns the current nodes for ids, skipping unknown ids.
func (m *StorageManager) NodesForIDs(ids []string) []models.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Node{}
	if m.data == nil {
		return out
	}
	for _, id := range ids {
		if node, ok := m.data.Nodes[id]; ok {
			out = append(out, node)
		}
	}
	return out
}

func (m *StorageManager) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.TotalNodes() == 0
}
