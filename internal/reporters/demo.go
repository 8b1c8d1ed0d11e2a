package reporters

import (
	"fmt"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// DemoTopology is a small fixed estate used by demo mode: one cloud
// provider with a plain region and a kubernetes cluster, hosts under
// each, and pods, containers and processes below them.
func DemoTopology() models.GraphResult {
	g := models.NewGraphResult()
	add := func(id, label string, t models.NodeType, parent string) {
		g.Nodes[id] = models.Node{ID: id, Label: label, Type: t, ImmediateParentID: parent}
	}
	connect := func(source, target string) {
		id := source + ";" + target
		g.Edges[id] = models.Edge{ID: id, Source: source, Target: target}
	}

	add("aws", "AWS", models.NodeTypeCloudProvider, "")
	add("aws-us-east-1", "us-east-1", models.NodeTypeCloudRegion, "aws")
	add("prod-cluster", "prod-cluster", models.NodeTypeKubernetesCluster, "aws")

	for i := 1; i <= 2; i++ {
		host := fmt.Sprintf("web-%d", i)
		add(host, host, models.NodeTypeHost, "aws-us-east-1")
		nginx := host + ";nginx"
		add(nginx, "nginx", models.NodeTypeContainer, host)
		add(nginx+";1", "nginx: master process", models.NodeTypeProcess, nginx)
		add(host+";sshd", "sshd", models.NodeTypeProcess, host)
	}

	for i := 1; i <= 2; i++ {
		host := fmt.Sprintf("k8s-node-%d", i)
		add(host, host, models.NodeTypeHost, "prod-cluster")
		pod := fmt.Sprintf("api-%d", i)
		add(pod, pod, models.NodeTypePod, host)
		container := pod + ";api"
		add(container, "api", models.NodeTypeContainer, pod)
		add(container+";1", "api-server", models.NodeTypeProcess, container)
		add(host+";kubelet", "kubelet", models.NodeTypeProcess, host)
	}

	connect(InboundInternetID, "web-1")
	connect(InboundInternetID, "web-2")
	connect("web-1;nginx;1", "api-1;api;1")
	connect("web-2;nginx;1", "api-2;api;1")
	connect("k8s-node-1", OutboundInternetID)
	return g
}
