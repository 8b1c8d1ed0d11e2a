package reporters

import (
	"context"
	"sync"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

const (
	InboundInternetID  = "in-the-internet"
	OutboundInternetID = "out-the-internet"
)

// internetNodes are added to every graph so connections to the outside
// world have somewhere to land.
func internetNodes() []models.Node {
	return []models.Node{
		{ID: InboundInternetID, Label: "The Internet (Inbound)", Type: models.NodeTypePseudo},
		{ID: OutboundInternetID, Label: "The Internet (Outbound)", Type: models.NodeTypePseudo},
	}
}

// RootType is the node type a view starts at.
func RootType(view models.ViewType) models.NodeType {
	switch view {
	case models.ViewKubernetes:
		return models.NodeTypeKubernetesCluster
	case models.ViewHost:
		return models.NodeTypeHost
	case models.ViewPod:
		return models.NodeTypePod
	case models.ViewContainer:
		return models.NodeTypeContainer
	default:
		return models.NodeTypeCloudProvider
	}
}

type expandedKey struct {
	id       string
	nodeType models.NodeType
}

// expandedSet flattens filters into a set of (id, type) pairs.
func expandedSet(filters models.TopologyFilters) map[expandedKey]bool {
	out := map[expandedKey]bool{}
	add := func(ids []string, t models.NodeType) {
		for _, id := range ids {
			out[expandedKey{id: id, nodeType: t}] = true
		}
	}
	add(filters.CloudFilter, models.NodeTypeCloudProvider)
	add(filters.RegionFilter, models.NodeTypeCloudRegion)
	add(filters.KubernetesFilter, models.NodeTypeKubernetesCluster)
	add(filters.HostFilter, models.NodeTypeHost)
	add(filters.PodFilter, models.NodeTypePod)
	add(filters.ContainerFilter, models.NodeTypeContainer)
	return out
}

// collapseEndpoint returns the first id of chain that is visible. chain
// lists a node followed by its ancestors, nearest first.
func collapseEndpoint(chain []string, visible map[string]models.Node) (string, bool) {
	for _, id := range chain {
		if id == "" {
			continue
		}
		if _, ok := visible[id]; ok {
			return id, true
		}
	}
	return "", false
}

// addConnection records a connection between the visible representatives
// of two endpoints. Connections that collapse into one node are dropped.
func addConnection(graph *models.GraphResult, source, target string) {
	if source == "" || target == "" || source == target {
		return
	}
	id := source + ";" + target
	graph.Edges[id] = models.Edge{ID: id, Source: source, Target: target}
}

// Project returns the part of full that a view shows under filters: the
// view's root nodes, children of expanded nodes, pseudo nodes, and
// connections collapsed onto the nearest visible ancestors.
func Project(full models.GraphResult, view models.ViewType, filters models.TopologyFilters) models.GraphResult {
	out := models.NewGraphResult()
	rootType := RootType(view)
	expanded := expandedSet(filters)

	children := map[string][]models.Node{}
	for _, node := range full.Nodes {
		children[node.ImmediateParentID] = append(children[node.ImmediateParentID], node)
	}

	var visit func(node models.Node, parentID string)
	visit = func(node models.Node, parentID string) {
		node.ImmediateParentID = parentID
		out.Nodes[node.ID] = node
		if !expanded[expandedKey{id: node.ID, nodeType: node.Type}] {
			return
		}
		for _, child := range children[node.ID] {
			visit(child, node.ID)
		}
	}
	for _, node := range full.Nodes {
		switch {
		case node.Type == models.NodeTypePseudo:
			out.Nodes[node.ID] = node
		case node.Type == rootType:
			visit(node, "")
		}
	}

	if filters.SkipConnections {
		return out
	}
	for _, edge := range full.Edges {
		source, ok := collapseEndpoint(ancestry(full, edge.Source), out.Nodes)
		if !ok {
			continue
		}
		target, ok := collapseEndpoint(ancestry(full, edge.Target), out.Nodes)
		if !ok {
			continue
		}
		addConnection(&out, source, target)
	}
	return out
}

// ancestry lists id and its ancestors in full, nearest first.
func ancestry(full models.GraphResult, id string) []string {
	chain := []string{}
	seen := map[string]bool{}
	for id != "" && !seen[id] {
		seen[id] = true
		chain = append(chain, id)
		node, ok := full.Nodes[id]
		if !ok {
			break
		}
		id = node.ImmediateParentID
	}
	return chain
}

// MemoryReporter answers queries from an in-memory topology.
type MemoryReporter struct {
	mu   sync.RWMutex
	full models.GraphResult
}

func NewMemoryReporter(full models.GraphResult) *MemoryReporter {
	return &MemoryReporter{full: withInternet(full)}
}

// Replace swaps the topology served by the reporter.
func (r *MemoryReporter) Replace(full models.GraphResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.full = withInternet(full)
}

func (r *MemoryReporter) Graph(ctx context.Context, view models.ViewType, filters models.TopologyFilters) (models.GraphResult, error) {
	if err := ctx.Err(); err != nil {
		return models.GraphResult{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Project(r.full, view, filters), nil
}

func withInternet(full models.GraphResult) models.GraphResult {
	out := models.NewGraphResult()
	for id, node := range full.Nodes {
		out.Nodes[id] = node
	}
	for id, edge := range full.Edges {
		out.Edges[id] = edge
	}
	for _, node := range internetNodes() {
		out.Nodes[node.ID] = node
	}
	return out
}
