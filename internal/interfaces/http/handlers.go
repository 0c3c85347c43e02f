package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	appworkflow "github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 500
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
	Details *ErrorDetail `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}

// SubmitRequest is the body of POST /instances
type SubmitRequest struct {
	WorkflowType string                 `json:"workflowType" binding:"required"`
	EntityType   string                 `json:"entityType" binding:"required"`
	EntityID     string                 `json:"entityId" binding:"required"`
	InitiatorID  string                 `json:"initiatorId" binding:"required"`
	Data         map[string]interface{} `json:"data"`
	Priority     entity.Priority        `json:"priority"`
	DueDate      *time.Time             `json:"dueDate"`
	Metadata     map[string]string      `json:"metadata"`

	// Draft stores the instance without routing it
	Draft bool `json:"draft"`
}

// DecisionBody is the body of POST /instances/:id/decisions
type DecisionBody struct {
	ApproverID      string        `json:"approverId" binding:"required"`
	Action          entity.Action `json:"action" binding:"required"`
	Comments        string        `json:"comments"`
	DelegatedTo     string        `json:"delegatedTo"`
	ExpectedVersion int64         `json:"expectedVersion"`
}

// ActorBody is the body of escalate and cancel
type ActorBody struct {
	ActorID string `json:"actorId" binding:"required"`
	Reason  string `json:"reason"`
}

// InitiatorBody is the body of POST /instances/:id/submit
type InitiatorBody struct {
	InitiatorID string `json:"initiatorId" binding:"required"`
}

// ResubmitBody is the body of POST /instances/:id/resubmit
type ResubmitBody struct {
	InitiatorID string                 `json:"initiatorId" binding:"required"`
	Data        map[string]interface{} `json:"data" binding:"required"`
	Comments    string                 `json:"comments"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.deps.Health != nil {
		resp.Components = make(map[string]string)
		for name, err := range h.deps.Health(c.Request.Context()) {
			if err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// Submit handles POST /api/v1/instances
func (h *Handlers) Submit(c *gin.Context) {
	var body SubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	req := appworkflow.SubmitRequest{
		WorkflowType: body.WorkflowType,
		EntityType:   body.EntityType,
		EntityID:     body.EntityID,
		InitiatorID:  body.InitiatorID,
		Data:         entity.Snapshot(body.Data),
		Priority:     body.Priority,
		DueDate:      body.DueDate,
		Metadata:     body.Metadata,
	}

	submit := h.deps.Engine.Submit
	if body.Draft {
		submit = h.deps.Engine.CreateDraft
	}
	inst, err := submit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "submit", err)
		return
	}

	h.logger.Info("Workflow submitted",
		"instance_id", inst.ID,
		"workflow_type", inst.WorkflowType,
		"status", inst.Status.String())
	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// SubmitDraft handles POST /api/v1/instances/:id/submit
func (h *Handlers) SubmitDraft(c *gin.Context) {
	var body InitiatorBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	inst, err := h.deps.Engine.SubmitDraft(c.Request.Context(), c.Param("id"), body.InitiatorID)
	if err != nil {
		h.fail(c, "submit draft", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// Decide handles POST /api/v1/instances/:id/decisions
func (h *Handlers) Decide(c *gin.Context) {
	var body DecisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	inst, err := h.deps.Engine.Decide(c.Request.Context(), appworkflow.DecisionRequest{
		InstanceID:      c.Param("id"),
		ApproverID:      body.ApproverID,
		Action:          body.Action,
		Comments:        body.Comments,
		DelegatedTo:     body.DelegatedTo,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		h.fail(c, "decide", err)
		return
	}

	h.logger.Info("Decision applied",
		"instance_id", inst.ID,
		"approver_id", body.ApproverID,
		"action", string(body.Action),
		"status", inst.Status.String())
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// Escalate handles POST /api/v1/instances/:id/escalate
func (h *Handlers) Escalate(c *gin.Context) {
	var body ActorBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	inst, err := h.deps.Engine.Escalate(c.Request.Context(), c.Param("id"), body.ActorID, body.Reason)
	if err != nil {
		h.fail(c, "escalate", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// Cancel handles POST /api/v1/instances/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	var body ActorBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	inst, err := h.deps.Engine.Cancel(c.Request.Context(), c.Param("id"), body.ActorID, body.Reason)
	if err != nil {
		h.fail(c, "cancel", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// Resubmit handles POST /api/v1/instances/:id/resubmit
func (h *Handlers) Resubmit(c *gin.Context) {
	var body ResubmitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	inst, err := h.deps.Engine.Resubmit(c.Request.Context(), c.Param("id"), body.InitiatorID, entity.Snapshot(body.Data), body.Comments)
	if err != nil {
		h.fail(c, "resubmit", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	inst, err := h.deps.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get instance", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// History handles GET /api/v1/instances/:id/history
func (h *Handlers) History(c *gin.Context) {
	entries, err := h.deps.Engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "history", err)
		return
	}
	if entries == nil {
		entries = []*entity.ApprovalLogEntry{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// Reconstruct handles GET /api/v1/instances/:id/reconstruct
func (h *Handlers) Reconstruct(c *gin.Context) {
	replay, err := h.deps.Engine.Reconstruct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "reconstruct", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: replay})
}

// Export handles GET /api/v1/instances/:id/export
func (h *Handlers) Export(c *gin.Context) {
	if h.deps.Exporter == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "export is not configured"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	inst, err := h.deps.Engine.Get(ctx, id)
	if err != nil {
		h.fail(c, "export", err)
		return
	}
	entries, err := h.deps.Engine.History(ctx, id)
	if err != nil {
		h.fail(c, "export", err)
		return
	}

	var buf bytes.Buffer
	if err := h.deps.Exporter.Export(&buf, inst, entries); err != nil {
		h.fail(c, "export", err)
		return
	}

	filename := fmt.Sprintf("audit-%s%s", inst.ID, h.deps.Exporter.FileExtension())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, h.deps.Exporter.ContentType(), buf.Bytes())
}

// PendingFor handles GET /api/v1/approvers/:approverId/pending
func (h *Handlers) PendingFor(c *gin.Context) {
	limit := defaultPendingLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.badRequest(c, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = n
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}

	instances, err := h.deps.Engine.PendingFor(c.Request.Context(), c.Param("approverId"), limit)
	if err != nil {
		h.fail(c, "pending", err)
		return
	}
	if instances == nil {
		instances = []*entity.WorkflowInstance{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// RequestStatus handles GET /api/v1/requests/:entityType/:entityId/status
func (h *Handlers) RequestStatus(c *gin.Context) {
	status, err := h.deps.Statuses.Get(c.Request.Context(), c.Param("entityType"), c.Param("entityId"))
	if err != nil {
		h.fail(c, "request status", err)
		return
	}
	if status == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Code: "NOT_FOUND", Error: "no status recorded for request"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: status})
}

// Sweep handles POST /api/v1/sweeps
func (h *Handlers) Sweep(c *gin.Context) {
	result, err := h.deps.Engine.TimeoutSweep(c.Request.Context())
	if err != nil {
		h.fail(c, "sweep", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}
