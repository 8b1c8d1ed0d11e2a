package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
	"github.com/deepfence/ThreatMapper-sub005/internal/topology"
)

// errorStatus maps topology errors to HTTP status codes. Errors it does not
// recognise get fallback.
func errorStatus(err error, fallback int) int {
	switch {
	case errors.Is(err, topology.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, topology.ErrRequestInFlight), errors.Is(err, topology.ErrStaleSnapshot):
		return http.StatusConflict
	case errors.Is(err, topology.ErrNodeLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, topology.ErrUnknownAction):
		return http.StatusBadRequest
	default:
		return fallback
	}
}

// owner is the authenticated user; sessions are scoped to it.
func owner(c *gin.Context) string {
	return c.GetString("username")
}

func (h *Handler) session(c *gin.Context) (*topology.Session, bool) {
	session, err := h.topology.Registry().Get(c.Param("id"), owner(c))
	if err != nil {
		c.JSON(errorStatus(err, http.StatusInternalServerError), gin.H{"error": err.Error()})
		return nil, false
	}
	return session, true
}

func (h *Handler) CreateSession(c *gin.Context) {
	var request struct {
		View     string `json:"view"`
		Kind     string `json:"kind"`
		ResumeID string `json:"resume_id"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	session, err := h.topology.OpenSession(c.Request.Context(), topology.OpenRequest{
		Owner:    owner(c),
		View:     models.ParseViewType(request.View),
		Kind:     topology.ParseSessionKind(request.Kind),
		ResumeID: request.ResumeID,
	})
	if err != nil {
		h.logger.Error("open topology session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"view":       session.View,
		"kind":       session.Kind,
		"filters":    session.Manager.Filters(),
	})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.topology.CloseSession(owner(c), c.Param("id")); err != nil {
		c.JSON(errorStatus(err, http.StatusInternalServerError), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ApplyAction(c *gin.Context) {
	var action models.TopologyAction
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
		return
	}
	if action.Type != models.ActionRefresh && action.NodeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id is required"})
		return
	}
	action.NodeType = models.ParseNodeType(string(action.NodeType))

	result, err := h.topology.Apply(c.Request.Context(), owner(c), c.Param("id"), action)
	if err != nil {
		c.JSON(errorStatus(err, http.StatusBadGateway), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Tree(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	tree := session.Manager.TreeData(topology.TreeOptions{
		ParentID:     c.Query("parent_id"),
		RootNodeType: models.ParseNodeType(c.Query("root_node_type")),
	})
	c.JSON(http.StatusOK, gin.H{
		"tree":         tree,
		"expanded_ids": topology.ExpandedIDs(tree),
	})
}

func (h *Handler) Nodes(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.JSON(http.StatusOK, gin.H{"nodes": session.Manager.NodesForIDs(ids)})
}

func (h *Handler) Filters(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Manager.Filters())
}

func (h *Handler) Expanded(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	nodeID := c.Query("node_id")
	if nodeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id is required"})
		return
	}
	nodeType := models.ParseNodeType(c.Query("node_type"))
	c.JSON(http.StatusOK, gin.H{
		"node_id":  nodeID,
		"expanded": session.Manager.IsNodeExpanded(nodeID, nodeType),
	})
}
