package models

import (
	"maps"
	"strings"
)

// NodeType is the kind of entity a topology node represents.
type NodeType string

const (
	NodeTypeUnknown           NodeType = ""
	NodeTypePseudo            NodeType = "pseudo"
	NodeTypeCloudProvider     NodeType = "cloud_provider"
	NodeTypeCloudRegion       NodeType = "cloud_region"
	NodeTypeKubernetesCluster NodeType = "kubernetes_cluster"
	NodeTypeHost              NodeType = "host"
	NodeTypePod               NodeType = "pod"
	NodeTypeContainer         NodeType = "container"
	NodeTypeProcess           NodeType = "process"
)

// ParseNodeType maps a raw type string to a known NodeType.
// Anything unrecognised becomes NodeTypeUnknown.
func ParseNodeType(raw string) NodeType {
	switch t := NodeType(strings.TrimSpace(raw)); t {
	case NodeTypePseudo, NodeTypeCloudProvider, NodeTypeCloudRegion,
		NodeTypeKubernetesCluster, NodeTypeHost, NodeTypePod,
		NodeTypeContainer, NodeTypeProcess:
		return t
	default:
		return NodeTypeUnknown
	}
}

// Node is one entity in the infrastructure topology (DetailedNodeSummary).
type Node struct {
	ID                string                 `json:"id"`
	Label             string                 `json:"label"`
	Type              NodeType               `json:"type"`
	ImmediateParentID string                 `json:"immediate_parent_id"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
}

// Edge is a connection between two nodes (DetailedConnectionSummary).
type Edge struct {
	ID         string                 `json:"id"`
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// GraphResult is a full topology snapshot as returned by the reporter.
type GraphResult struct {
	Nodes map[string]Node `json:"nodes"`
	Edges map[string]Edge `json:"edges"`
}

// NewGraphResult returns a snapshot with empty, non-nil maps.
func NewGraphResult() GraphResult {
	return GraphResult{
		Nodes: map[string]Node{},
		Edges: map[string]Edge{},
	}
}

// Clone copies the snapshot's maps and every attribute map in it.
func (g GraphResult) Clone() GraphResult {
	out := GraphResult{}
	if g.Nodes != nil {
		out.Nodes = make(map[string]Node, len(g.Nodes))
		for id, n := range g.Nodes {
			out.Nodes[id] = n.Clone()
		}
	}
	if g.Edges != nil {
		out.Edges = make(map[string]Edge, len(g.Edges))
		for id, e := range g.Edges {
			out.Edges[id] = e.Clone()
		}
	}
	return out
}

func (n Node) Clone() Node {
	n.Attributes = maps.Clone(n.Attributes)
	return n
}

func (e Edge) Clone() Edge {
	e.Attributes = maps.Clone(e.Attributes)
	return e
}

// TotalNodes counts the nodes of a possibly nil snapshot.
func (g *GraphResult) TotalNodes() int {
	if g == nil {
		return 0
	}
	return len(g.Nodes)
}

// TopologyFilters is the per-type set of expanded node ids sent to the reporter.
type TopologyFilters struct {
	CloudFilter      []string `json:"cloud_filter"`
	RegionFilter     []string `json:"region_filter"`
	KubernetesFilter []string `json:"kubernetes_filter"`
	HostFilter       []string `json:"host_filter"`
	PodFilter        []string `json:"pod_filter"`
	ContainerFilter  []string `json:"container_filter"`
	SkipConnections  bool     `json:"skip_connections"`
}

// NewTopologyFilters returns filters with every collection empty but non-nil,
// so they serialise as [] rather than null.
func NewTopologyFilters() TopologyFilters {
	return TopologyFilters{
		CloudFilter:      []string{},
		RegionFilter:     []string{},
		KubernetesFilter: []string{},
		HostFilter:       []string{},
		PodFilter:        []string{},
		ContainerFilter:  []string{},
	}
}

// ViewType selects which level of the hierarchy a topology query starts at.
type ViewType string

const (
	ViewCloud      ViewType = "cloud"
	ViewKubernetes ViewType = "kubernetes"
	ViewHost       ViewType = "host"
	ViewPod        ViewType = "pod"
	ViewContainer  ViewType = "container"
)

// ParseViewType falls back to the cloud view for anything unknown.
func ParseViewType(raw string) ViewType {
	switch v := ViewType(strings.TrimSpace(raw)); v {
	case ViewCloud, ViewKubernetes, ViewHost, ViewPod, ViewContainer:
		return v
	default:
		return ViewCloud
	}
}

// ActionKind tags a TopologyAction.
type ActionKind string

const (
	ActionExpandNode   ActionKind = "expandNode"
	ActionCollapseNode ActionKind = "collapseNode"
	ActionRefresh      ActionKind = "refresh"
)

// TopologyAction is the user action that triggered a snapshot request.
type TopologyAction struct {
	Type     ActionKind `json:"type" binding:"required,oneof=expandNode collapseNode refresh"`
	NodeID   string     `json:"node_id,omitempty"`
	NodeType NodeType   `json:"node_type,omitempty"`
}

// RefreshAction is the action issued by periodic refreshes.
func RefreshAction() TopologyAction {
	return TopologyAction{Type: ActionRefresh}
}

// TreeNode is a Node decorated with its children (TopologyTreeData).
type TreeNode struct {
	Node
	Children []TreeNode `json:"children"`
}
