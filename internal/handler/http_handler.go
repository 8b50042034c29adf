package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
	"github.com/scribeworks/be-doc-approvals/internal/errors"
	"github.com/scribeworks/be-doc-approvals/internal/logger"
	"github.com/scribeworks/be-doc-approvals/internal/service"
)

// actorHeader carries the acting principal's user ID. Authentication happens
// upstream at the gateway; this service trusts the header.
const actorHeader = "X-Actor-ID"

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(service *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// Router builds the service router with the standard middleware stack.
func (h *HTTPHandler) Router(requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.Health)

	r.Route("/api/v1/approvals", func(r chi.Router) {
		r.Post("/start", h.StartWorkflow)
		r.Get("/get", h.GetWorkflow)
		r.Get("/steps", h.GetGroupedSteps)
		r.Post("/resolve", h.ResolveStep)
		r.Post("/forward", h.ForwardStep)
		r.Post("/status", h.SetVersionStatus)
		r.Get("/actionable", h.GetActionableStep)
		r.Get("/history", h.GetHistory)
	})

	return r
}

// Health reports service liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── request / response bodies ─────────────────────────────────────────────────

type principalBody struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type groupBody struct {
	Number     int             `json:"number"`
	Type       string          `json:"type"`
	Principals []principalBody `json:"principals"`
}

type startWorkflowBody struct {
	DocumentID string      `json:"document_id"`
	VersionID  int64       `json:"version_id"`
	Note       string      `json:"note"`
	Steps      []groupBody `json:"steps"`
}

type resolveStepBody struct {
	StepID string `json:"step_id"`
	Status string `json:"status"`
	Note   string `json:"note"`
}

type forwardStepBody struct {
	StepID    string        `json:"step_id"`
	Principal principalBody `json:"principal"`
	Note      string        `json:"note"`
}

type setVersionStatusBody struct {
	DocumentID string `json:"document_id"`
	VersionID  int64  `json:"version_id"`
	Status     string `json:"status"`
}

type workflowResponse struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	VersionID  int64     `json:"version_id"`
	Status     string    `json:"status"`
	Note       *string   `json:"note,omitempty"`
	AuthorID   string    `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type stepResponse struct {
	ID         string        `json:"id"`
	WorkflowID string        `json:"workflow_id"`
	Number     int           `json:"step_number"`
	Principal  principalBody `json:"principal"`
	Type       string        `json:"type"`
	Status     string        `json:"status"`
	Note       *string       `json:"note,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type historyEntryResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toWorkflowResponse(wf *approval.Workflow) *workflowResponse {
	return &workflowResponse{
		ID:         wf.ID,
		DocumentID: wf.DocumentID,
		VersionID:  wf.VersionID,
		Status:     wf.Status.String(),
		Note:       wf.Note,
		AuthorID:   wf.AuthorID,
		CreatedAt:  wf.CreatedAt,
		UpdatedAt:  wf.UpdatedAt,
	}
}

func toStepResponse(s *approval.Step) *stepResponse {
	return &stepResponse{
		ID:         s.ID,
		WorkflowID: s.WorkflowID,
		Number:     s.Number,
		Principal:  principalBody{Kind: string(s.Principal.Kind), ID: s.Principal.ID},
		Type:       s.Type.String(),
		Status:     s.Status.String(),
		Note:       s.Note,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func toStepResponses(steps []*approval.Step) []*stepResponse {
	out := make([]*stepResponse, 0, len(steps))
	for _, s := range steps {
		out = append(out, toStepResponse(s))
	}
	return out
}

// ── handlers ──────────────────────────────────────────────────────────────────

// StartWorkflow handles workflow definition requests.
func (h *HTTPHandler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	var body startWorkflowBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	groups := make([]approval.GroupSubmission, 0, len(body.Steps))
	for _, g := range body.Steps {
		sub := approval.GroupSubmission{
			Number: g.Number,
			Type:   approval.ParseStepType(g.Type),
		}
		for _, p := range g.Principals {
			sub.Principals = append(sub.Principals, approval.Principal{
				Kind: approval.PrincipalKind(p.Kind),
				ID:   p.ID,
			})
		}
		groups = append(groups, sub)
	}

	wf, steps, err := h.service.StartWorkflow(r.Context(), &service.StartWorkflowRequest{
		DocumentID: body.DocumentID,
		VersionID:  body.VersionID,
		ActorID:    r.Header.Get(actorHeader),
		Note:       body.Note,
		Groups:     groups,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"workflow": toWorkflowResponse(wf),
		"steps":    toStepResponses(steps),
	})
}

// GetWorkflow returns the workflow and steps for a document version.
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	documentID, versionID, err := documentVersionParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	wf, steps, err := h.service.GetWorkflow(r.Context(), documentID, versionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"workflow": toWorkflowResponse(wf),
		"steps":    toStepResponses(steps),
	})
}

// GetGroupedSteps returns the steps grouped by step number, falling back to
// the latest released workflow of the document as a template.
func (h *HTTPHandler) GetGroupedSteps(w http.ResponseWriter, r *http.Request) {
	documentID, versionID, err := documentVersionParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	grouped, err := h.service.GroupedSteps(r.Context(), documentID, versionID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make(map[string][]*stepResponse, len(grouped))
	for number, steps := range grouped {
		out[strconv.Itoa(number)] = toStepResponses(steps)
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

// ResolveStep handles approve/reject requests.
func (h *HTTPHandler) ResolveStep(w http.ResponseWriter, r *http.Request) {
	var body resolveStepBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	status, ok := approval.ParseStepStatus(body.Status)
	if !ok {
		writeError(w, errors.InvalidInput("status", "must be approved or rejected"))
		return
	}

	step, err := h.service.ResolveStep(r.Context(), &service.ResolveStepRequest{
		StepID:  body.StepID,
		Status:  status,
		Note:    body.Note,
		ActorID: r.Header.Get(actorHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStepResponse(step))
}

// ForwardStep hands a pending step to another principal.
func (h *HTTPHandler) ForwardStep(w http.ResponseWriter, r *http.Request) {
	var body forwardStepBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	step, err := h.service.ReassignStep(r.Context(), &service.ReassignStepRequest{
		StepID:    body.StepID,
		Principal: approval.Principal{Kind: approval.PrincipalKind(body.Principal.Kind), ID: body.Principal.ID},
		Note:      body.Note,
		ActorID:   r.Header.Get(actorHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStepResponse(step))
}

// SetVersionStatus marks a document version as draft or published.
func (h *HTTPHandler) SetVersionStatus(w http.ResponseWriter, r *http.Request) {
	var body setVersionStatusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	status, ok := approval.ParseWorkflowStatus(body.Status)
	if !ok {
		writeError(w, errors.InvalidInput("status", "must be draft or published"))
		return
	}

	wf, err := h.service.SetVersionStatus(r.Context(), &service.SetVersionStatusRequest{
		DocumentID: body.DocumentID,
		VersionID:  body.VersionID,
		Status:     status,
		ActorID:    r.Header.Get(actorHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWorkflowResponse(wf))
}

// GetActionableStep returns the first pending step the actor can act on, or
// 204 when nothing is actionable.
func (h *HTTPHandler) GetActionableStep(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		writeError(w, errors.InvalidInput("workflow_id", "workflow id is required"))
		return
	}
	actorID := r.Header.Get(actorHeader)
	if actorID == "" {
		writeError(w, errors.InvalidInput("actor_id", "acting principal is required"))
		return
	}

	var stepID *string
	if v := r.URL.Query().Get("step_id"); v != "" {
		stepID = &v
	}

	step, err := h.service.FirstActionableStep(r.Context(), workflowID, actorID, stepID)
	if err != nil {
		writeError(w, err)
		return
	}
	if step == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, toStepResponse(step))
}

// GetHistory returns the status trail of a workflow, oldest first.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		writeError(w, errors.InvalidInput("workflow_id", "workflow id is required"))
		return
	}

	entries, err := h.service.History(r.Context(), workflowID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]*historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, &historyEntryResponse{
			ID:        e.ID,
			Status:    e.Status.String(),
			AuthorID:  e.AuthorID,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func documentVersionParams(r *http.Request) (string, int64, error) {
	documentID := r.URL.Query().Get("document_id")
	if documentID == "" {
		return "", 0, errors.InvalidInput("document_id", "document id is required")
	}
	versionID, err := strconv.ParseInt(r.URL.Query().Get("version_id"), 10, 64)
	if err != nil || versionID < 1 {
		return "", 0, errors.InvalidInput("version_id", "a positive version id is required")
	}
	return documentID, versionID, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), map[string]any{
		"error": map[string]string{
			"code":    errors.Code(err),
			"message": errors.Message(err),
		},
	})
}
