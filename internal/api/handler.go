package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/agent"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/bus"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/tool"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/workflow"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	agents   *agent.Registry
	engine   *workflow.Engine
	contexts *blackboard.Manager
	tools    *tool.Registry
	executor *tool.Executor
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHandler creates a new API handler. timeout bounds each request; zero
// disables the bound.
func NewHandler(
	agents *agent.Registry,
	engine *workflow.Engine,
	contexts *blackboard.Manager,
	tools *tool.Registry,
	executor *tool.Executor,
	timeout time.Duration,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		agents:   agents,
		engine:   engine,
		contexts: contexts,
		tools:    tools,
		executor: executor,
		timeout:  timeout,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.timeout > 0 {
		r.Use(middleware.Timeout(h.timeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Get("/agents/{id}/tools", h.agentTools)
		r.Put("/agents/{id}/tools/{toolID}", h.assignTool)
		r.Delete("/agents/{id}/tools/{toolID}", h.unassignTool)
		r.Post("/agents/{id}/tools/{toolID}/invoke", h.invokeTool)

		// Workflow routes
		r.Post("/workflows", h.createWorkflow)
		r.Get("/workflows", h.listWorkflows)
		r.Get("/workflows/{id}", h.getWorkflow)
		r.Post("/workflows/{id}/executions", h.startExecution)
		r.Get("/workflows/{id}/executions", h.listExecutions)

		// Execution routes
		r.Get("/executions/{id}", h.getExecution)
		r.Post("/executions/{id}/cancel", h.cancelExecution)
		r.Get("/executions/{id}/messages", h.executionMessages)
		r.Get("/executions/{id}/context", h.executionContext)
		r.Get("/contexts/stats", h.contextStats)

		// Tool routes
		r.Post("/tools", h.createTool)
		r.Get("/tools/{id}", h.getTool)
		r.Put("/tools/{id}", h.updateTool)
		r.Delete("/tools/{id}", h.deleteTool)
		r.Get("/bots/{botID}/tools", h.botTools)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"agents":           h.agents.Len(),
		"activeExecutions": len(h.engine.Active()),
	})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	if role := r.URL.Query().Get("role"); role != "" {
		writeJSON(w, http.StatusOK, h.agents.ByRole(agent.Role(role)))
		return
	}
	writeJSON(w, http.StatusOK, h.agents)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agents.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, agent.ErrAgentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) agentTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.tools.GetByAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

type assignRequest struct {
	IsEnabled *bool `json:"isEnabled"`
	Priority  int   `json:"priority"`
}

func (h *Handler) assignTool(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	enabled := req.IsEnabled == nil || *req.IsEnabled
	a, err := h.tools.AssignToAgent(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "toolID"), enabled, req.Priority)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) unassignTool(w http.ResponseWriter, r *http.Request) {
	if err := h.tools.RemoveFromAgent(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "toolID")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type invokeRequest struct {
	ExecutionID string          `json:"executionId"`
	Arguments   json.RawMessage `json:"arguments"`
}

func (h *Handler) invokeTool(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.executor.Execute(r.Context(), tool.Invocation{
		AgentID:     chi.URLParam(r, "id"),
		ExecutionID: req.ExecutionID,
		Tool:        chi.URLParam(r, "toolID"),
		Arguments:   req.Arguments,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"result": out})
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var d workflow.Definition
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.engine.CreateWorkflow(r.Context(), &d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := h.engine.ListWorkflows(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type startRequest struct {
	Input blackboard.Value `json:"input"`
	Wait  bool             `json:"wait"`
}

// startExecution launches a workflow. With "wait" the response carries the
// finished execution, otherwise it returns 202 with the running one.
func (h *Handler) startExecution(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	id := chi.URLParam(r, "id")
	if req.Wait {
		exec, err := h.engine.Run(r.Context(), id, req.Input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, exec)
		return
	}
	exec, err := h.engine.Start(r.Context(), id, req.Input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := h.engine.Executions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *Handler) cancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Cancel(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	exec, err := h.engine.Status(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *Handler) executionMessages(w http.ResponseWriter, r *http.Request) {
	f, err := messageFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msgs, err := h.engine.Messages(r.Context(), chi.URLParam(r, "id"), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*bus.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func messageFilter(r *http.Request) (bus.Filter, error) {
	q := r.URL.Query()
	f := bus.Filter{
		Type:        bus.MessageType(q.Get("type")),
		FromAgentID: q.Get("from"),
		ToAgentID:   q.Get("to"),
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return f, err
		}
		f.Since = t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (h *Handler) executionContext(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Context(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) contextStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.contexts.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) createTool(w http.ResponseWriter, r *http.Request) {
	var t tool.Tool
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.tools.Register(r.Context(), &t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getTool(w http.ResponseWriter, r *http.Request) {
	t, err := h.tools.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, tool.ErrToolNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) updateTool(w http.ResponseWriter, r *http.Request) {
	var t tool.Tool
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t.ID = chi.URLParam(r, "id")
	updated, err := h.tools.Update(r.Context(), &t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteTool(w http.ResponseWriter, r *http.Request) {
	if err := h.tools.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) botTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.tools.GetByBot(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tools == nil {
		tools = []*tool.Tool{}
	}
	writeJSON(w, http.StatusOK, tools)
}

// fail writes err with the status its sentinel maps to.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound),
		errors.Is(err, workflow.ErrWorkflowNotFound),
		errors.Is(err, workflow.ErrExecutionNotFound),
		errors.Is(err, blackboard.ErrContextNotFound),
		errors.Is(err, tool.ErrToolNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrDuplicateAgent),
		errors.Is(err, blackboard.ErrDuplicateContext),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, tool.ErrToolDisabled):
		return http.StatusConflict
	case errors.Is(err, agent.ErrInvalidAgent),
		errors.Is(err, workflow.ErrInvalidDefinition),
		errors.Is(err, workflow.ErrCyclicFlow),
		errors.Is(err, tool.ErrInvalidTool),
		errors.Is(err, tool.ErrInvalidArguments),
		errors.Is(err, tool.ErrNoHandler):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrJoinTimeout),
		errors.Is(err, bus.ErrResponseTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
