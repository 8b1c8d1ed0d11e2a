package reporters

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

func ids[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func TestProjectCloudViewCollapsed(t *testing.T) {
	full := withInternet(DemoTopology())

	g := Project(full, models.ViewCloud, models.NewTopologyFilters())

	assert.Equal(t, []string{"aws", InboundInternetID, OutboundInternetID}, ids(g.Nodes))
	// web hosts and k8s-node-1 collapse into the provider.
	assert.Equal(t, []string{
		"aws;" + OutboundInternetID,
		InboundInternetID + ";aws",
	}, ids(g.Edges))
}

func TestProjectExpandsOnlyMatchingType(t *testing.T) {
	full := withInternet(DemoTopology())
	filters := models.NewTopologyFilters()
	filters.CloudFilter = []string{"aws"}
	filters.RegionFilter = []string{"aws-us-east-1"}
	filters.HostFilter = []string{"aws-us-east-1"}

	g := Project(full, models.ViewCloud, filters)

	assert.Contains(t, g.Nodes, "aws-us-east-1")
	assert.Contains(t, g.Nodes, "prod-cluster")
	assert.Contains(t, g.Nodes, "web-1")
	assert.NotContains(t, g.Nodes, "web-1;nginx")
	assert.NotContains(t, g.Nodes, "k8s-node-1")
	assert.Equal(t, "aws-us-east-1", g.Nodes["web-1"].ImmediateParentID)
	assert.Equal(t, "", g.Nodes["aws"].ImmediateParentID)
}

func TestProjectCollapsesEdgesToVisibleAncestors(t *testing.T) {
	full := withInternet(DemoTopology())
	filters := models.NewTopologyFilters()
	filters.CloudFilter = []string{"aws"}
	filters.RegionFilter = []string{"aws-us-east-1"}
	filters.KubernetesFilter = []string{"prod-cluster"}

	g := Project(full, models.ViewCloud, filters)

	assert.Contains(t, g.Edges, "web-1;k8s-node-1")
	assert.Contains(t, g.Edges, "web-2;k8s-node-2")
	assert.Contains(t, g.Edges, InboundInternetID+";web-1")
	assert.Contains(t, g.Edges, "k8s-node-1;"+OutboundInternetID)
}

func TestProjectHostViewRoots(t *testing.T) {
	full := withInternet(DemoTopology())
	filters := models.NewTopologyFilters()
	filters.HostFilter = []string{"k8s-node-1"}
	filters.PodFilter = []string{"api-1"}
	filters.SkipConnections = true

	g := Project(full, models.ViewHost, filters)

	for _, host := range []string{"web-1", "web-2", "k8s-node-1", "k8s-node-2"} {
		require.Contains(t, g.Nodes, host)
		assert.Equal(t, "", g.Nodes[host].ImmediateParentID)
	}
	assert.Contains(t, g.Nodes, "api-1")
	assert.Contains(t, g.Nodes, "api-1;api")
	assert.Contains(t, g.Nodes, "k8s-node-1;kubelet")
	assert.NotContains(t, g.Nodes, "api-2")
	assert.Empty(t, g.Edges)
}

func TestRootType(t *testing.T) {
	assert.Equal(t, models.NodeTypeCloudProvider, RootType(models.ViewCloud))
	assert.Equal(t, models.NodeTypeKubernetesCluster, RootType(models.ViewKubernetes))
	assert.Equal(t, models.NodeTypeContainer, RootType(models.ViewContainer))
	assert.Equal(t, models.NodeTypeCloudProvider, RootType("bogus"))
}

func TestMemoryReporter(t *testing.T) {
	r := NewMemoryReporter(DemoTopology())

	g, err := r.Graph(context.Background(), models.ViewPod, models.NewTopologyFilters())
	require.NoError(t, err)
	assert.Equal(t, []string{"api-1", "api-2", InboundInternetID, OutboundInternetID}, ids(g.Nodes))

	r.Replace(models.NewGraphResult())
	g, err = r.Graph(context.Background(), models.ViewPod, models.NewTopologyFilters())
	require.NoError(t, err)
	assert.Equal(t, []string{InboundInternetID, OutboundInternetID}, ids(g.Nodes))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Graph(ctx, models.ViewPod, models.NewTopologyFilters())
	assert.ErrorIs(t, err, context.Canceled)
}
