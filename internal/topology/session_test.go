package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
)

func TestSessionTryBegin(t *testing.T) {
	r := NewRegistry(0, zaptest.NewLogger(t))
	s := r.Create("alice", models.ViewHost, KindGraph)

	require.NoError(t, s.TryBegin())
	assert.ErrorIs(t, s.TryBegin(), ErrRequestInFlight)

	action := models.TopologyAction{Type: models.ActionExpandNode, NodeID: "h1", NodeType: models.NodeTypeHost}
	s.End(&action)
	assert.NoError(t, s.TryBegin())
	assert.Equal(t, &action, s.LastAction())
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(10, zaptest.NewLogger(t))

	a := r.Create("alice", models.ViewCloud, KindGraph)
	b, err := r.CreateWithID("fixed", "alice", models.ViewPod, KindTable)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, r.Len())

	got, err := r.Get("fixed", "alice")
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, models.ViewPod, got.View)
	assert.Equal(t, KindTable, got.Kind)

	require.NoError(t, r.Delete("fixed", "alice"))
	assert.ErrorIs(t, r.Delete("fixed", "alice"), ErrSessionNotFound)
	_, err = r.Get("fixed", "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	r.Close()
	assert.Zero(t, r.Len())
}

func TestRegistryCreateWithIDKeepsOpenSession(t *testing.T) {
	r := NewRegistry(0, zaptest.NewLogger(t))
	open, err := r.CreateWithID("fixed", "alice", models.ViewHost, KindGraph)
	require.NoError(t, err)
	open.Manager.AddNodeToFilters("h1", models.NodeTypeHost)

	_, err = r.CreateWithID("fixed", "bob", models.ViewCloud, KindGraph)
	assert.ErrorIs(t, err, ErrSessionExists)

	got, err := r.Get("fixed", "alice")
	require.NoError(t, err)
	assert.Same(t, open, got)
	assert.True(t, got.Manager.IsNodeExpanded("h1", models.NodeTypeHost))
}

func TestRegistryScopesSessionsToOwner(t *testing.T) {
	r := NewRegistry(0, zaptest.NewLogger(t))
	s := r.Create("alice", models.ViewHost, KindGraph)

	_, err := r.Get(s.ID, "bob")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, r.Delete(s.ID, "bob"), ErrSessionNotFound)
	assert.Equal(t, 1, r.Len())

	_, err = r.Get(s.ID, "alice")
	assert.NoError(t, err)
}

func TestRegistrySessionsHaveOwnManagers(t *testing.T) {
	r := NewRegistry(2, zaptest.NewLogger(t))
	a := r.Create("alice", models.ViewHost, KindGraph)
	b := r.Create("alice", models.ViewHost, KindGraph)

	a.Manager.AddNodeToFilters("h1", models.NodeTypeHost)

	assert.False(t, b.Manager.IsNodeExpanded("h1", models.NodeTypeHost))
	assert.ErrorIs(t, a.Manager.ApplyGraphData(a.Manager.NextSequence(), graph([]models.Node{
		node("h1", models.NodeTypeHost, ""),
		node("h2", models.NodeTypeHost, ""),
	})), ErrNodeLimitExceeded)
}

func TestRegistryNodeLimitOnlyBindsGraphSessions(t *testing.T) {
	r := NewRegistry(1, zaptest.NewLogger(t))
	big := graph([]models.Node{
		node("h1", models.NodeTypeHost, ""),
		node("h2", models.NodeTypeHost, ""),
	})

	g := r.Create("alice", models.ViewHost, KindGraph)
	assert.ErrorIs(t, g.Manager.ApplyGraphData(g.Manager.NextSequence(), big), ErrNodeLimitExceeded)

	table := r.Create("alice", models.ViewHost, KindTable)
	require.NoError(t, table.Manager.ApplyGraphData(table.Manager.NextSequence(), big))
	assert.Equal(t, 2, table.Manager.APIData().TotalNodes())
}

func TestParseSessionKind(t *testing.T) {
	assert.Equal(t, KindTable, ParseSessionKind("table"))
	assert.Equal(t, KindGraph, ParseSessionKind("graph"))
	assert.Equal(t, KindGraph, ParseSessionKind(""))
	assert.Equal(t, KindGraph, ParseSessionKind("chart"))
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry(0, zaptest.NewLogger(t))
	idle := r.Create("alice", models.ViewHost, KindGraph)
	busy := r.Create("alice", models.ViewHost, KindGraph)
	require.NoError(t, busy.TryBegin())

	assert.Zero(t, r.Sweep(time.Hour))

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, r.Sweep(time.Hour))

	_, err := r.Get(idle.ID, "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.Get(busy.ID, "alice")
	assert.NoError(t, err)
}
