package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/definition"
	"github.com/garyjia/approval-engine/internal/application/port/porttest"
	appworkflow "github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/rule"
	"github.com/garyjia/approval-engine/internal/domain/rule/ruletest"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type fakeExporter struct{}

func (fakeExporter) Export(w io.Writer, inst *entity.WorkflowInstance, entries []*entity.ApprovalLogEntry) error {
	_, err := fmt.Fprintf(w, "%s:%d", inst.ID, len(entries))
	return err
}
func (fakeExporter) ContentType() string   { return "text/plain" }
func (fakeExporter) FileExtension() string { return ".txt" }

type apiHarness struct {
	t      *testing.T
	server *Server
	mem    *porttest.Memory
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()

	dir := ruletest.NewDirectory()
	dir.AddEmployee(rule.Employee{ID: "mgr-1", Department: "Engineering", GradeLevel: 6, IsApprover: true}, "")
	dir.AddEmployee(rule.Employee{ID: "emp-1", Department: "Engineering", GradeLevel: 3}, "mgr-1")
	dir.GrantRole("FINANCE", "fin-1")

	mem := porttest.NewMemory()
	clock := porttest.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := definition.NewStore(mem.Definitions(), mem, definition.WithClock(clock))
	engine := appworkflow.NewEngine(
		appworkflow.Repositories{Instances: mem.Instances(), Logs: mem.Logs(), Outbox: mem.Outbox()},
		store,
		rule.NewEvaluator(dir),
		mem,
		appworkflow.WithClock(clock),
	)

	server := NewServer(DefaultServerConfig(), Dependencies{
		Engine:      engine,
		Definitions: store,
		Statuses:    mem.Statuses(),
		Exporter:    fakeExporter{},
		Gatherer:    prometheus.NewRegistry(),
		Health: func(context.Context) map[string]error {
			return map[string]error{"database": nil}
		},
	}, nopLogger{})

	return &apiHarness{t: t, server: server, mem: mem}
}

func (a *apiHarness) do(method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.Router().ServeHTTP(rec, req)

	var resp Response
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (a *apiHarness) publishTravel() {
	a.t.Helper()
	rec, _ := a.do(http.MethodPost, "/api/v1/definitions", map[string]interface{}{
		"workflowType": entity.WorkflowTypeTravelRequest,
		"name":         "Travel",
		"stages": []map[string]interface{}{
			{"order": 1, "name": "Line manager", "stageType": "APPROVAL", "approvalRuleType": "MANAGERIAL_LEVEL", "managerialLevel": 1, "requiredApprovals": 1, "isMandatory": true},
			{"order": 2, "name": "Finance", "stageType": "FINAL", "approvalRuleType": "ROLE_BASED", "allowedRoles": []string{"FINANCE"}, "requiredApprovals": 1, "isMandatory": true},
		},
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *apiHarness) submitTravel() string {
	a.t.Helper()
	rec, resp := a.do(http.MethodPost, "/api/v1/instances", map[string]interface{}{
		"workflowType": entity.WorkflowTypeTravelRequest,
		"entityType":   "travel_request",
		"entityId":     "tr-1",
		"initiatorId":  "emp-1",
		"data":         map[string]interface{}{"amount": 800},
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return resp.Data.(map[string]interface{})["id"].(string)
}

func TestAPI_TravelRequestLifecycle(t *testing.T) {
	api := newAPI(t)
	api.publishTravel()
	id := api.submitTravel()

	rec, resp := api.do(http.MethodGet, "/api/v1/approvers/mgr-1/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)

	rec, resp = api.do(http.MethodPost, "/api/v1/instances/"+id+"/decisions", map[string]interface{}{
		"approverId": "mgr-1", "action": "APPROVE", "comments": "ok",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), resp.Data.(map[string]interface{})["currentStage"])

	rec, resp = api.do(http.MethodPost, "/api/v1/instances/"+id+"/decisions", map[string]interface{}{
		"approverId": "fin-1", "action": "APPROVE",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "COMPLETED", resp.Data.(map[string]interface{})["status"])

	rec, resp = api.do(http.MethodGet, "/api/v1/instances/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 2)

	rec, resp = api.do(http.MethodGet, "/api/v1/instances/"+id+"/reconstruct", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["consistent"])

	rec, _ = api.do(http.MethodGet, "/api/v1/instances/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id+":2", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-"+id+".txt")
}

func TestAPI_ErrorMapping(t *testing.T) {
	api := newAPI(t)
	api.publishTravel()
	id := api.submitTravel()

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown instance", http.MethodGet, "/api/v1/instances/missing", nil, http.StatusNotFound, "NOT_FOUND"},
		{"wrong approver", http.MethodPost, "/api/v1/instances/" + id + "/decisions",
			map[string]interface{}{"approverId": "fin-1", "action": "APPROVE"}, http.StatusForbidden, "UNAUTHORIZED_APPROVER"},
		{"not a decision", http.MethodPost, "/api/v1/instances/" + id + "/decisions",
			map[string]interface{}{"approverId": "mgr-1", "action": "ESCALATE"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"stale version", http.MethodPost, "/api/v1/instances/" + id + "/decisions",
			map[string]interface{}{"approverId": "mgr-1", "action": "APPROVE", "expectedVersion": 7}, http.StatusConflict, "CONCURRENT_MODIFICATION"},
		{"missing body field", http.MethodPost, "/api/v1/instances/" + id + "/cancel",
			map[string]interface{}{"reason": "x"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no definition", http.MethodPost, "/api/v1/instances",
			map[string]interface{}{"workflowType": "PAYROLL_RUN", "entityType": "x", "entityId": "1", "initiatorId": "emp-1"},
			http.StatusUnprocessableEntity, "NO_APPROVAL_PATH_FOUND"},
		{"invalid definition", http.MethodPost, "/api/v1/definitions",
			map[string]interface{}{"workflowType": "BROKEN", "stages": []interface{}{}}, http.StatusBadRequest, "DEFINITION_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := api.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, resp.Code)
			assert.False(t, resp.Success)
		})
	}

	rec, _ := api.do(http.MethodPost, "/api/v1/instances/"+id+"/cancel", map[string]interface{}{"actorId": "emp-1", "reason": "plans changed"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, resp := api.do(http.MethodPost, "/api/v1/instances/"+id+"/cancel", map[string]interface{}{"actorId": "emp-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CANNOT_CANCEL_TERMINAL_INSTANCE", resp.Code)
	require.NotNil(t, resp.Details)
	assert.Equal(t, id, resp.Details.InstanceID)
}

func TestAPI_DraftThenSubmit(t *testing.T) {
	api := newAPI(t)
	api.publishTravel()

	rec, resp := api.do(http.MethodPost, "/api/v1/instances", map[string]interface{}{
		"workflowType": entity.WorkflowTypeTravelRequest,
		"entityType":   "travel_request",
		"entityId":     "tr-2",
		"initiatorId":  "emp-1",
		"draft":        true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inst := resp.Data.(map[string]interface{})
	assert.Equal(t, "DRAFT", inst["status"])

	rec, resp = api.do(http.MethodPost, "/api/v1/instances/"+inst["id"].(string)+"/submit", map[string]interface{}{"initiatorId": "emp-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING_APPROVAL", resp.Data.(map[string]interface{})["status"])
}

func TestAPI_DefinitionsAndStatus(t *testing.T) {
	api := newAPI(t)
	api.publishTravel()

	rec, resp := api.do(http.MethodGet, "/api/v1/definitions?workflowType="+entity.WorkflowTypeTravelRequest, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	defs := resp.Data.([]interface{})
	require.Len(t, defs, 1)
	defID := defs[0].(map[string]interface{})["id"].(string)

	rec, _ = api.do(http.MethodGet, "/api/v1/definitions/"+defID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = api.do(http.MethodGet, "/api/v1/workflows/"+entity.WorkflowTypeTravelRequest+"/definition", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = api.do(http.MethodGet, "/api/v1/definitions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = api.do(http.MethodPost, "/api/v1/definitions", defs[0])
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_DEFINITION", resp.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/requests/travel_request/tr-1/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, api.mem.Statuses().Upsert(context.Background(), &entity.RequestStatus{
		EntityType: "travel_request", EntityID: "tr-1", Status: "APPROVED", UpdatedAt: time.Now(),
	}))
	rec, resp = api.do(http.MethodGet, "/api/v1/requests/travel_request/tr-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "APPROVED", resp.Data.(map[string]interface{})["status"])
}

func TestAPI_SweepHealthAndMetrics(t *testing.T) {
	api := newAPI(t)

	rec, resp := api.do(http.MethodPost, "/api/v1/sweeps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), resp.Data.(map[string]interface{})["scanned"])

	rec, resp = api.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = api.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassify(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", workflow.NewError(workflow.ErrNoApproverFound, "i-1", "stage 2"))
	code, status := classify(wrapped)
	assert.Equal(t, "NO_APPROVER_FOUND", code)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	code, status = classify(errors.New("disk full"))
	assert.Equal(t, "INTERNAL_ERROR", code)
	assert.Equal(t, http.StatusInternalServerError, status)
}
