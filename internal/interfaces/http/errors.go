package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-engine/internal/application/definition"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// ErrorDetail mirrors the instance context of a workflow.Error
type ErrorDetail struct {
	InstanceID string `json:"instanceId,omitempty"`
	Stage      int    `json:"stage,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
}

// errorCodes is checked in order. Kinds that wrap other kinds come first.
var errorCodes = []struct {
	kind   error
	code   string
	status int
}{
	{definition.ErrDuplicateDefinition, "DUPLICATE_DEFINITION", http.StatusConflict},
	{workflow.ErrNoApprovalPathFound, "NO_APPROVAL_PATH_FOUND", http.StatusUnprocessableEntity},
	{workflow.ErrNoApproverFound, "NO_APPROVER_FOUND", http.StatusUnprocessableEntity},
	{workflow.ErrConcurrentModification, "CONCURRENT_MODIFICATION", http.StatusConflict},
	{workflow.ErrValidation, "VALIDATION_ERROR", http.StatusBadRequest},
	{workflow.ErrDefinitionInvalid, "DEFINITION_INVALID", http.StatusBadRequest},
	{workflow.ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{workflow.ErrUnauthorizedApprover, "UNAUTHORIZED_APPROVER", http.StatusForbidden},
	{workflow.ErrInvalidStateForAction, "INVALID_STATE_FOR_ACTION", http.StatusConflict},
	{workflow.ErrCannotCancelTerminalInstance, "CANNOT_CANCEL_TERMINAL_INSTANCE", http.StatusConflict},
}

// classify maps an engine error to its API code and HTTP status
func classify(err error) (string, int) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.kind) {
			return ec.code, ec.status
		}
	}
	return "INTERNAL_ERROR", http.StatusInternalServerError
}

// fail writes err as an error response. Internal errors are logged and
// their message is not exposed.
func (h *Handlers) fail(c *gin.Context, op string, err error) {
	code, status := classify(err)
	resp := Response{Success: false, Code: code, Error: err.Error()}

	var wfErr *workflow.Error
	if errors.As(err, &wfErr) {
		resp.Details = &ErrorDetail{
			InstanceID: wfErr.InstanceID,
			Stage:      wfErr.Stage,
			Expected:   wfErr.Expected,
			Actual:     wfErr.Actual,
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", op, "error", err)
		resp.Error = op + " failed"
	}
	c.JSON(status, resp)
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Code:    "VALIDATION_ERROR",
		Error:   "invalid request: " + err.Error(),
	})
}
