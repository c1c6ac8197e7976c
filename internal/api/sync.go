package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lecpa/docsync/pkg/types"
)

// FileArrived handles POST /ingest/file-arrived
func (h *Handler) FileArrived(c *gin.Context) {
	var req types.FileArrivedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.NASPath == "" {
		badRequest(c, "nas_path is required")
		return
	}
	resp, err := h.ingest.FileArrived(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// FileDeleted handles POST /ingest/file-deleted
func (h *Handler) FileDeleted(c *gin.Context) {
	var req types.FileDeletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.NASPath == "" {
		badRequest(c, "nas_path is required")
		return
	}
	resp, err := h.ingest.FileDeleted(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Heartbeat handles POST /ingest/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, h.ingest.Heartbeat())
}

// Relationship handles POST /ingest/relationship
func (h *Handler) Relationship(c *gin.Context) {
	var req types.RelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.IndividualCode == "" || req.BusinessCode == "" {
		badRequest(c, "individual_code and business_code are required")
		return
	}
	resp, err := h.ingest.Relationship(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SyncStatus handles GET /ingest/sync-status
func (h *Handler) SyncStatus(c *gin.Context) {
	resp, err := h.ingest.SyncStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListQueue handles GET /ingest/sync-queue
func (h *Handler) ListQueue(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, "limit must be an integer")
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		badRequest(c, "offset must be an integer")
		return
	}
	resp, err := h.ingest.ListQueue(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Approve handles POST /ingest/sync-queue/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	notes, ok := reviewNotes(c)
	if !ok {
		return
	}
	resp, err := h.ingest.Approve(c.Request.Context(), c.Param("id"), reviewer(c), notes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reject handles POST /ingest/sync-queue/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	notes, ok := reviewNotes(c)
	if !ok {
		return
	}
	resp, err := h.ingest.Reject(c.Request.Context(), c.Param("id"), reviewer(c), notes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// reviewNotes reads the optional body; an empty body means no notes
func reviewNotes(c *gin.Context) (string, bool) {
	if c.Request.ContentLength == 0 {
		return "", true
	}
	var req types.QueueActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return req.Notes, true
}

func reviewer(c *gin.Context) string {
	if r := c.GetHeader(ReviewerHeader); r != "" {
		return r
	}
	return defaultReviewer
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
