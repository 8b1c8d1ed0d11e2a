package topology

import (
	"sort"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// TreeOptions scopes a tree build. An empty ParentID selects root nodes;
// RootNodeType, when set, restricts the top level only.
type TreeOptions struct {
	ParentID     string
	RootNodeType models.NodeType
}

// BuildTree arranges nodes into a forest by immediate_parent_id. Pseudo
// nodes are left out. Nodes whose parent is missing from nodes never
// appear below any parent.
func BuildTree(nodes map[string]models.Node, opts TreeOptions) []models.TreeNode {
	children := make(map[string][]models.Node, len(nodes))
	for _, node := range nodes {
		if node.Type == models.NodeTypePseudo {
			continue
		}
		children[node.ImmediateParentID] = append(children[node.ImmediateParentID], node)
	}
	for parent := range children {
		siblings := children[parent]
		sort.Slice(siblings, func(i, j int) bool { return siblings[i].ID < siblings[j].ID })
	}
	return buildLevel(children, opts.ParentID, opts.RootNodeType, map[string]bool{})
}

func buildLevel(children map[string][]models.Node, parentID string, only models.NodeType, visiting map[string]bool) []models.TreeNode {
	out := []models.TreeNode{}
	if visiting[parentID] {
		// parent cycle in a malformed snapshot
		return out
	}
	visiting[parentID] = true
	defer delete(visiting, parentID)

	for _, node := range children[parentID] {
		if only != models.NodeTypeUnknown && node.Type != only {
			continue
		}
		out = append(out, models.TreeNode{
			Node:     node,
			Children: buildLevel(children, node.ID, models.NodeTypeUnknown, visiting),
		})
	}
	return out
}

// ExpandedIDs returns, depth first, the ids of tree nodes that have children.
func ExpandedIDs(tree []models.TreeNode) []string {
	out := []string{}
	for _, node := range tree {
		if len(node.Children) > 0 {
			out = append(out, node.ID)
			out = append(out, ExpandedIDs(node.Children)...)
		}
	}
	return out
}

// IDs returns every id in the tree, depth first.
func IDs(tree []models.TreeNode) []string {
	out := []string{}
	for _, node := range tree {
		out = append(out, node.ID)
		out = append(out, IDs(node.Children)...)
	}
	return out
}
