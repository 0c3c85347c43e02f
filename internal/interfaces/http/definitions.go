package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// PublishDefinition handles POST /api/v1/definitions
func (h *Handlers) PublishDefinition(c *gin.Context) {
	var def entity.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		h.badRequest(c, err)
		return
	}

	published, err := h.deps.Definitions.Publish(c.Request.Context(), &def)
	if err != nil {
		h.fail(c, "publish definition", err)
		return
	}

	h.logger.Info("Definition published",
		"definition_id", published.ID,
		"workflow_type", published.WorkflowType,
		"version", published.Version)
	c.JSON(http.StatusCreated, Response{Success: true, Data: published})
}

// ListDefinitions handles GET /api/v1/definitions?workflowType=
func (h *Handlers) ListDefinitions(c *gin.Context) {
	workflowType := c.Query("workflowType")
	if workflowType == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Code: "VALIDATION_ERROR", Error: "workflowType is required"})
		return
	}

	defs, err := h.deps.Definitions.List(c.Request.Context(), workflowType)
	if err != nil {
		h.fail(c, "list definitions", err)
		return
	}
	if defs == nil {
		defs = []*entity.WorkflowDefinition{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: defs})
}

// GetDefinition handles GET /api/v1/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	def, err := h.deps.Definitions.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get definition", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: def})
}

// ActiveDefinition handles GET /api/v1/workflows/:workflowType/definition
func (h *Handlers) ActiveDefinition(c *gin.Context) {
	def, err := h.deps.Definitions.GetActive(c.Request.Context(), c.Param("workflowType"))
	if err != nil {
		h.fail(c, "active definition", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: def})
}
