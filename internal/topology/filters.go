package topology

import (
	"slices"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// ChildFinder returns the ids of nodes of childType whose immediate parent is parentID.
type ChildFinder func(parentID string, childType models.NodeType) []string

// FilterSet tracks which nodes are expanded, one ordered collection per
// expandable node type.
type FilterSet struct {
	cloud      []string
	region     []string
	kubernetes []string
	host       []string
	pod        []string
	container  []string
}

// NewFilterSet returns an empty FilterSet.
func NewFilterSet() *FilterSet {
	return &FilterSet{}
}

// collection returns the slot holding ids of nodeType, or nil when the type
// cannot be expanded.
func (f *FilterSet) collection(nodeType models.NodeType) *[]string {
	switch nodeType {
	case models.NodeTypeCloudProvider:
		return &f.cloud
	case models.NodeTypeCloudRegion:
		return &f.region
	case models.NodeTypeKubernetesCluster:
		return &f.kubernetes
	case models.NodeTypeHost:
		return &f.host
	case models.NodeTypePod:
		return &f.pod
	case models.NodeTypeContainer:
		return &f.container
	default:
		return nil
	}
}

// ChildTypes lists the node types collapsed together with a node of nodeType.
func ChildTypes(nodeType models.NodeType) []models.NodeType {
	switch nodeType {
	case models.NodeTypeCloudProvider:
		return []models.NodeType{models.NodeTypeCloudRegion, models.NodeTypeKubernetesCluster}
	case models.NodeTypeCloudRegion, models.NodeTypeKubernetesCluster:
		return []models.NodeType{models.NodeTypeHost}
	case models.NodeTypeHost, models.NodeTypePod:
		return []models.NodeType{models.NodeTypeContainer}
	default:
		return nil
	}
}

// Expandable reports whether nodeType has a filter collection.
func Expandable(nodeType models.NodeType) bool {
	return NewFilterSet().collection(nodeType) != nil
}

// IsExpanded reports whether nodeID is present in the collection for nodeType.
func (f *FilterSet) IsExpanded(nodeID string, nodeType models.NodeType) bool {
	c := f.collection(nodeType)
	if c == nil {
		return false
	}
	return slices.Contains(*c, nodeID)
}

// Add marks nodeID as expanded. It is a no-op for nodes already expanded
// and for types without a collection.
func (f *FilterSet) Add(nodeID string, nodeType models.NodeType) bool {
	if f.IsExpanded(nodeID, nodeType) {
		return false
	}
	c := f.collection(nodeType)
	if c == nil {
		return false
	}
	*c = append(*c, nodeID)
	return true
}

// Remove collapses nodeID and, recursively, every expanded child of the
// types returned by ChildTypes. It returns the ids removed, parent first.
func (f *FilterSet) Remove(nodeID string, nodeType models.NodeType, findChildren ChildFinder) []string {
	if !f.IsExpanded(nodeID, nodeType) {
		return nil
	}
	c := f.collection(nodeType)
	*c = slices.DeleteFunc(*c, func(id string) bool { return id == nodeID })

	removed := []string{nodeID}
	if findChildren == nil {
		return removed
	}
	for _, childType := range ChildTypes(nodeType) {
		for _, childID := range findChildren(nodeID, childType) {
			removed = append(removed, f.Remove(childID, childType, findChildren)...)
		}
	}
	return removed
}

// Filters returns a copy of the collections in wire form.
func (f *FilterSet) Filters() models.TopologyFilters {
	return models.TopologyFilters{
		CloudFilter:      cloneIDs(f.cloud),
		RegionFilter:     cloneIDs(f.region),
		KubernetesFilter: cloneIDs(f.kubernetes),
		HostFilter:       cloneIDs(f.host),
		PodFilter:        cloneIDs(f.pod),
		ContainerFilter:  cloneIDs(f.container),
	}
}

// Restore replaces the collections with a copy of filters. Duplicate ids
// within a collection are dropped.
func (f *FilterSet) Restore(filters models.TopologyFilters) {
	f.cloud = dedupe(filters.CloudFilter)
	f.region = dedupe(filters.RegionFilter)
	f.kubernetes = dedupe(filters.KubernetesFilter)
	f.host = dedupe(filters.HostFilter)
	f.pod = dedupe(filters.PodFilter)
	f.container = dedupe(filters.ContainerFilter)
}

// Len counts expanded ids across all collections.
func (f *FilterSet) Len() int {
	return len(f.cloud) + len(f.region) + len(f.kubernetes) + len(f.host) + len(f.pod) + len(f.container)
}

func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
