package reporters

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

// Every level query returns (parent id, node id, label).
const (
	queryCloudProviders = `
	MATCH (n:CloudProvider)
	WHERE n.active = true
	RETURN '', n.node_id, coalesce(n.node_name, n.node_id)`

	queryCloudRegions = `
	MATCH (p:CloudProvider) -[:HOSTS]-> (n:CloudRegion)
	WHERE p.node_id IN $parents AND n.active = true
	RETURN p.node_id, n.node_id, coalesce(n.node_name, n.node_id)`

	queryProviderClusters = `
	MATCH (p:CloudProvider) -[:HOSTS]-> (n:KubernetesCluster)
	WHERE p.node_id IN $parents AND n.active = true
	RETURN DISTINCT p.node_id, n.node_id, coalesce(n.node_name, n.node_id)`

	queryAllClusters = `
	MATCH (n:KubernetesCluster)
	WHERE n.active = true
	RETURN '', n.node_id, coalesce(n.node_name, n.node_id)`

	queryRegionHosts = `
	MATCH (r:CloudRegion) -[:HOSTS]-> (n:Node)
	WHERE r.node_id IN $parents AND n.active = true
	AND coalesce(n.kubernetes_cluster_id, '') = ''
	RETURN r.node_id, n.node_id, coalesce(n.host_name, n.node_id)`

	queryClusterHosts = `
	MATCH (k:KubernetesCluster) -[:INSTANCIATE]-> (n:Node)
	WHERE k.node_id IN $parents AND n.active = true
	RETURN k.node_id, n.node_id, coalesce(n.host_name, n.node_id)`

	queryAllHosts = `
	MATCH (n:Node)
	WHERE n.active = true AND NOT n.node_id IN ['in-the-internet', 'out-the-internet']
	RETURN '', n.node_id, coalesce(n.host_name, n.node_id)`

	queryHostPods = `
	MATCH (n:Pod)
	WHERE n.active = true AND n.host_name IN $parents
	RETURN n.host_name, n.node_id, coalesce(n.pod_name, n.node_id)`

	queryAllPods = `
	MATCH (n:Pod)
	WHERE n.active = true
	RETURN '', n.node_id, coalesce(n.pod_name, n.node_id)`

	queryHostContainers = `
	MATCH (h:Node) -[:HOSTS]-> (n:Container)
	WHERE h.node_id IN $parents AND n.active = true
	RETURN h.node_id, n.node_id, coalesce(n.docker_container_name, n.node_id)`

	queryPodContainers = `
	MATCH (n:Container)
	WHERE n.active = true AND n.pod_id IN $parents
	RETURN n.pod_id, n.node_id, coalesce(n.docker_container_name, n.node_id)`

	queryAllContainers = `
	MATCH (n:Container)
	WHERE n.active = true
	RETURN '', n.node_id, coalesce(n.docker_container_name, n.node_id)`

	queryHostProcesses = `
	MATCH (h:Node) -[:HOSTS]-> (n:Process)
	WHERE h.node_id IN $parents
	RETURN h.node_id, n.node_id, coalesce(n.node_name, n.node_id)`

	queryContainerProcesses = `
	MATCH (c:Container) -[:HOSTS]-> (n:Process)
	WHERE c.node_id IN $parents
	RETURN c.node_id, n.node_id, coalesce(n.node_name, n.node_id)`

	// Each endpoint comes back as itself followed by its ancestors.
	queryConnections = `
	MATCH (n:Node) -[:CONNECTS]-> (m:Node)
	WHERE n.active = true AND m.active = true
	RETURN [n.node_id, coalesce(n.kubernetes_cluster_id, ''), coalesce(n.cloud_region, ''), coalesce(n.cloud_provider, '')],
	       [m.node_id, coalesce(m.kubernetes_cluster_id, ''), coalesce(m.cloud_region, ''), coalesce(m.cloud_provider, '')]`
)

// recordRunner runs one cypher statement and returns every record.
type recordRunner interface {
	collect(ctx context.Context, cypher string, params map[string]interface{}) ([]*neo4j.Record, error)
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r txRunner) collect(ctx context.Context, cypher string, params map[string]interface{}) ([]*neo4j.Record, error) {
	result, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// level is one step of a view: nodes of nodeType found by query under the
// expanded parents listed in parents.
type level struct {
	query    string
	nodeType models.NodeType
	parents  func(models.TopologyFilters) []string
}

func rootLevel(query string, t models.NodeType) level {
	return level{query: query, nodeType: t}
}

func childLevel(query string, t models.NodeType, parents func(models.TopologyFilters) []string) level {
	return level{query: query, nodeType: t, parents: parents}
}

func cloudFilter(f models.TopologyFilters) []string      { return f.CloudFilter }
func regionFilter(f models.TopologyFilters) []string     { return f.RegionFilter }
func kubernetesFilter(f models.TopologyFilters) []string { return f.KubernetesFilter }
func hostFilter(f models.TopologyFilters) []string       { return f.HostFilter }
func podFilter(f models.TopologyFilters) []string        { return f.PodFilter }
func containerFilter(f models.TopologyFilters) []string  { return f.ContainerFilter }

var (
	hostChildren = []level{
		childLevel(queryHostPods, models.NodeTypePod, hostFilter),
		childLevel(queryHostContainers, models.NodeTypeContainer, hostFilter),
	}
	podChildren = []level{
		childLevel(queryPodContainers, models.NodeTypeContainer, podFilter),
	}
	// container processes run last so they win over host processes.
	processLevels = []level{
		childLevel(queryHostProcesses, models.NodeTypeProcess, hostFilter),
		childLevel(queryContainerProcesses, models.NodeTypeProcess, containerFilter),
	}
)

// viewLevels lists the queries of a view in parent-before-child order.
func viewLevels(view models.ViewType) []level {
	var levels []level
	switch view {
	case models.ViewKubernetes:
		levels = append(levels,
			rootLevel(queryAllClusters, models.NodeTypeKubernetesCluster),
			childLevel(queryClusterHosts, models.NodeTypeHost, kubernetesFilter),
		)
		levels = append(levels, hostChildren...)
		levels = append(levels, podChildren...)
	case models.ViewHost:
		levels = append(levels, rootLevel(queryAllHosts, models.NodeTypeHost))
		levels = append(levels, hostChildren...)
		levels = append(levels, podChildren...)
	case models.ViewPod:
		levels = append(levels, rootLevel(queryAllPods, models.NodeTypePod))
		levels = append(levels, podChildren...)
	case models.ViewContainer:
		levels = append(levels, rootLevel(queryAllContainers, models.NodeTypeContainer))
	default:
		levels = append(levels,
			rootLevel(queryCloudProviders, models.NodeTypeCloudProvider),
			childLevel(queryCloudRegions, models.NodeTypeCloudRegion, cloudFilter),
			childLevel(queryProviderClusters, models.NodeTypeKubernetesCluster, cloudFilter),
			childLevel(queryRegionHosts, models.NodeTypeHost, regionFilter),
			childLevel(queryClusterHosts, models.NodeTypeHost, kubernetesFilter),
		)
		levels = append(levels, hostChildren...)
		levels = append(levels, podChildren...)
	}
	return append(levels, processLevels...)
}

// Neo4jReporter builds topology snapshots from the graph database.
type Neo4jReporter struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewNeo4jReporter(driver neo4j.DriverWithContext, database string, timeout time.Duration, logger *zap.Logger) *Neo4jReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Neo4jReporter{
		driver:   driver,
		database: database,
		timeout:  timeout,
		logger:   logger,
	}
}

func (r *Neo4jReporter) Graph(ctx context.Context, view models.ViewType, filters models.TopologyFilters) (models.GraphResult, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: r.database,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return buildGraph(ctx, txRunner{tx: tx}, view, filters, r.logger)
	}, neo4j.WithTxTimeout(r.timeout))
	if err != nil {
		return models.GraphResult{}, fmt.Errorf("read %s topology: %w", view, err)
	}
	return res.(models.GraphResult), nil
}

func buildGraph(ctx context.Context, runner recordRunner, view models.ViewType, filters models.TopologyFilters, logger *zap.Logger) (models.GraphResult, error) {
	graph := models.NewGraphResult()
	for _, node := range internetNodes() {
		graph.Nodes[node.ID] = node
	}

	for _, lvl := range viewLevels(view) {
		params := map[string]interface{}{}
		if lvl.parents != nil {
			parents := lvl.parents(filters)
			if len(parents) == 0 {
				continue
			}
			params["parents"] = parents
		}
		records, err := runner.collect(ctx, lvl.query, params)
		if err != nil {
			return models.GraphResult{}, fmt.Errorf("query %s nodes: %w", lvl.nodeType, err)
		}
		for _, rec := range records {
			parent, id, label := stringAt(rec, 0), stringAt(rec, 1), stringAt(rec, 2)
			if id == "" {
				continue
			}
			if parent != "" {
				if _, ok := graph.Nodes[parent]; !ok {
					// parent was not returned by an earlier level
					continue
				}
			}
			graph.Nodes[id] = models.Node{
				ID:                id,
				Label:             label,
				Type:              lvl.nodeType,
				ImmediateParentID: parent,
			}
		}
	}

	if filters.SkipConnections {
		return graph, nil
	}
	records, err := runner.collect(ctx, queryConnections, nil)
	if err != nil {
		// The nodes are still worth showing without their connections.
		logger.Warn("topology connections query failed", zap.Error(err))
		return graph, nil
	}
	for _, rec := range records {
		source, ok := collapseEndpoint(stringsAt(rec, 0), graph.Nodes)
		if !ok {
			continue
		}
		target, ok := collapseEndpoint(stringsAt(rec, 1), graph.Nodes)
		if !ok {
			continue
		}
		addConnection(&graph, source, target)
	}
	return graph, nil
}

func stringAt(rec *neo4j.Record, i int) string {
	if rec == nil || i >= len(rec.Values) {
		return ""
	}
	s, _ := rec.Values[i].(string)
	return s
}

func stringsAt(rec *neo4j.Record, i int) []string {
	if rec == nil || i >= len(rec.Values) {
		return nil
	}
	raw, ok := rec.Values[i].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}
