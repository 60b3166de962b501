package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/flowmesh/flowmesh/internal/agent"
	"github.com/flowmesh/flowmesh/internal/archive"
	"github.com/flowmesh/flowmesh/internal/audit"
	"github.com/flowmesh/flowmesh/internal/auth"
	"github.com/flowmesh/flowmesh/internal/config"
	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/execstore"
	"github.com/flowmesh/flowmesh/internal/flowstore"
	"github.com/flowmesh/flowmesh/internal/validator"
	"github.com/flowmesh/flowmesh/pkg/types"
)

// Deps bundles the dependencies of the API handlers.
type Deps struct {
	Flows     flowstore.Store
	Execs     execstore.Store
	Engine    *engine.Engine
	Registry  *agent.Registry
	Validator *validator.Validator
	Audit     audit.Recorder

	// Archive is optional; nil disables the archive endpoint.
	Archive *archive.Service

	// Static is the credential provider for the login endpoint. Only set
	// when the auth mode is "static".
	Static *auth.StaticProvider

	Config *config.Config
	Logger *slog.Logger
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	flows     flowstore.Store
	execs     execstore.Store
	engine    *engine.Engine
	registry  *agent.Registry
	validator *validator.Validator
	audit     audit.Recorder
	archive   *archive.Service
	static    *auth.StaticProvider
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		flows:     d.Flows,
		execs:     d.Execs,
		engine:    d.Engine,
		registry:  d.Registry,
		validator: d.Validator,
		audit:     d.Audit,
		archive:   d.Archive,
		static:    d.Static,
		config:    d.Config,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /healthz endpoint.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /readyz endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.execs.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "execution store unhealthy", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ready",
		"executions": info,
	})
}

// --- Authentication ---

// LoginRequest is the request body for static-mode login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.static == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "static authentication is not enabled", nil)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	token, claims, err := h.static.Authenticate(req.Username, req.Password)
	if err != nil {
		h.recordAudit(r, audit.ActionUserLogin, "user", req.Username, nil, false, "invalid credentials")
		writeErrorResponse(w, r, http.StatusUnauthorized, ErrCodeInvalidCreds, "invalid credentials", nil)
		return
	}

	h.recordAudit(r, audit.ActionUserLogin, "user", req.Username, nil, true, "")

	h.respondJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(time.Until(claims.Expiry).Seconds()),
	})
}

// --- Agent Catalog ---

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.registry.List()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	})
}

// --- Workflow Management ---

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if result := h.validator.ValidateWorkflowJSON(body); !result.Valid {
		writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeValidation, "workflow definition is invalid", map[string]interface{}{
			"validation_errors": result.Errors,
		})
		return
	}

	var req flowstore.CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = h.actor(ctx)
	}

	wf, err := h.flows.Create(ctx, &req)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowExists) {
			h.respondError(w, r, http.StatusConflict, "workflow already exists", err)
			return
		}
		h.respondError(w, r, http.StatusBadRequest, "failed to create workflow", err)
		return
	}

	h.recordAudit(r, audit.ActionWorkflowCreated, "workflow", wf.ID, map[string]interface{}{"name": wf.Name}, true, "")
	h.respondJSON(w, http.StatusCreated, wf)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := &flowstore.ListOptions{
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
		CreatedBy: r.URL.Query().Get("created_by"),
	}

	workflows, err := h.flows.List(ctx, opts)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list workflows", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["id"]

	wf, err := h.flows.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get workflow", err)
		return
	}

	h.respondJSON(w, http.StatusOK, wf)
}

// UpdateWorkflow handles PUT /api/v1/workflows/{id}
func (h *Handlers) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["id"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if result := h.validator.ValidateWorkflowUpdateJSON(body); !result.Valid {
		writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeValidation, "workflow update is invalid", map[string]interface{}{
			"validation_errors": result.Errors,
		})
		return
	}

	var req flowstore.UpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	wf, err := h.flows.Update(ctx, workflowID, &req)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to update workflow", err)
		return
	}

	h.recordAudit(r, audit.ActionWorkflowUpdated, "workflow", wf.ID, map[string]interface{}{"name": wf.Name}, true, "")
	h.respondJSON(w, http.StatusOK, wf)
}

// DeleteWorkflow handles DELETE /api/v1/workflows/{id}
func (h *Handlers) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["id"]

	if err := h.flows.Delete(ctx, workflowID); err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to delete workflow", err)
		return
	}

	h.recordAudit(r, audit.ActionWorkflowDeleted, "workflow", workflowID, nil, true, "")
	w.WriteHeader(http.StatusNoContent)
}

// --- Execution Management ---

// ExecuteRequest is the request body for starting an execution.
type ExecuteRequest struct {
	Input interface{} `json:"input,omitempty"`
}

// ExecuteResponse is returned after an execution has been accepted.
type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	EventsURL   string `json:"events_url"`
}

// ExecuteWorkflow handles POST /api/v1/workflows/{id}/execute
// The execution runs asynchronously; the response carries the execution ID
// and the SSE URL for progress.
func (h *Handlers) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["id"]

	var req ExecuteRequest
	if r.Body != nil {
		// An empty body means no input
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	wf, err := h.flows.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get workflow", err)
		return
	}

	executionID := uuid.NewString()
	now := time.Now().UTC()
	pending := &types.Execution{
		ID:         executionID,
		WorkflowID: wf.ID,
		Status:     types.ExecutionStatusPending,
		Input:      req.Input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.execs.Create(ctx, pending); err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to create execution record", err)
		return
	}

	// Run detached from the request context: the 202 response returns
	// immediately while the pipeline executes.
	go h.runExecution(wf, req.Input, executionID)

	h.recordAudit(r, audit.ActionWorkflowExecuted, "workflow", wf.ID, map[string]interface{}{"execution_id": executionID}, true, "")

	h.respondJSON(w, http.StatusAccepted, ExecuteResponse{
		ExecutionID: executionID,
		Status:      string(types.ExecutionStatusPending),
		EventsURL:   "/api/v1/executions/" + executionID + "/events",
	})
}

// runExecution drives one workflow execution to its terminal state and
// persists the finalized record.
func (h *Handlers) runExecution(wf *types.Workflow, input interface{}, executionID string) {
	ctx := context.Background()

	started := time.Now().UTC()
	if err := h.execs.UpdateStatus(ctx, executionID, types.ExecutionStatusRunning, &started, nil); err != nil {
		h.logger.Error("failed to mark execution running", "execution_id", executionID, "error", err)
	}

	exec, err := h.engine.ExecuteWorkflow(ctx, wf, input, executionID)
	if err != nil {
		// Contract violations cannot occur here; guard anyway so the
		// record never sticks in running.
		h.logger.Error("execution engine rejected workflow", "execution_id", executionID, "error", err)
		completed := time.Now().UTC()
		if uerr := h.execs.UpdateStatus(ctx, executionID, types.ExecutionStatusFailed, nil, &completed); uerr != nil {
			h.logger.Error("failed to mark execution failed", "execution_id", executionID, "error", uerr)
		}
		return
	}

	if err := h.execs.Update(ctx, exec); err != nil {
		h.logger.Error("failed to persist finalized execution", "execution_id", executionID, "error", err)
	}
}

// ListExecutions handles GET /api/v1/executions
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := &execstore.ListOptions{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Status:     types.ExecutionStatus(r.URL.Query().Get("status")),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	}

	executions, err := h.execs.List(ctx, opts)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list executions", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	})
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := mux.Vars(r)["id"]

	exec, err := h.execs.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, execstore.ErrExecutionNotFound) {
			h.respondError(w, r, http.StatusNotFound, "execution not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get execution", err)
		return
	}

	h.respondJSON(w, http.StatusOK, exec)
}

// GetExecutionLogs handles GET /api/v1/executions/{id}/logs
func (h *Handlers) GetExecutionLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := mux.Vars(r)["id"]

	if _, err := h.execs.Get(ctx, executionID); err != nil {
		if errors.Is(err, execstore.ErrExecutionNotFound) {
			h.respondError(w, r, http.StatusNotFound, "execution not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get execution", err)
		return
	}

	logs, err := h.engine.Logs(ctx, executionID)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to read execution logs", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"execution_id": executionID,
		"logs":         logs,
		"count":        len(logs),
	})
}

// ArchiveExecution handles POST /api/v1/executions/{id}/archive
func (h *Handlers) ArchiveExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := mux.Vars(r)["id"]

	if h.archive == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "archiving is not enabled", nil)
		return
	}

	exec, err := h.execs.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, execstore.ErrExecutionNotFound) {
			h.respondError(w, r, http.StatusNotFound, "execution not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get execution", err)
		return
	}

	if !exec.Status.Terminal() {
		h.respondError(w, r, http.StatusConflict, "execution has not finished", nil)
		return
	}

	ref, err := h.archive.ArchiveExecution(ctx, exec)
	if err != nil {
		h.recordAudit(r, audit.ActionExecutionArchived, "execution", executionID, nil, false, err.Error())
		h.respondError(w, r, http.StatusInternalServerError, "failed to archive execution", err)
		return
	}

	resp := map[string]interface{}{
		"archived": true,
		"ref":      ref,
	}
	if url, err := h.archive.DownloadURL(ctx, executionID); err == nil && url != "" {
		resp["download_url"] = url
	} else if err != nil && !errors.Is(err, archive.ErrPresignUnsupported) {
		h.logger.Warn("failed to presign archive download", "execution_id", executionID, "error", err)
	}

	h.recordAudit(r, audit.ActionExecutionArchived, "execution", executionID, map[string]interface{}{"uri": ref.URI}, true, "")
	h.respondJSON(w, http.StatusOK, resp)
}

// --- Audit ---

// ListAuditEntries handles GET /api/v1/audit
func (h *Handlers) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := &audit.ListOptions{
		Actor:        r.URL.Query().Get("actor"),
		Action:       r.URL.Query().Get("action"),
		ResourceType: r.URL.Query().Get("resource_type"),
		ResourceID:   r.URL.Query().Get("resource_id"),
		Limit:        queryInt(r, "limit"),
		Offset:       queryInt(r, "offset"),
	}

	entries, err := h.audit.List(ctx, opts)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list audit entries", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// --- Helper Methods ---

// actor identifies the authenticated principal, or "anonymous" when auth
// is disabled.
func (h *Handlers) actor(ctx context.Context) string {
	if claims := auth.GetClaims(ctx); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}

func (h *Handlers) recordAudit(r *http.Request, action, resourceType, resourceID string, details map[string]interface{}, success bool, errMsg string) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		Actor:        h.actor(r.Context()),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		IPAddress:    auth.ClientIP(r),
		Success:      success,
		Error:        errMsg,
	}
	if err := h.audit.Record(r.Context(), entry); err != nil {
		h.logger.Warn("failed to record audit entry", "action", action, "error", err)
	}
}

func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	h.logger.Error(message, "error", err, "status", status)

	var details map[string]interface{}
	if err != nil {
		details = map[string]interface{}{"cause": err.Error()}
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), message, details)
}
