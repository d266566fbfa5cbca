// Package api implements C7 (ExecutionAPI): the HTTP surface of spec §6,
// grounded on alya's internal/webservices/vouchers/vouchershandler.go
// handler shape (struct of dependencies, RegisterXHandlers(*gin.Engine),
// BindJSON/Validate/respond-via-envelope per route) re-keyed to this
// repo's own internal/wscutils envelope.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/artifactstore"
	"github.com/remiges-tech/masstock/internal/domain"
	"github.com/remiges-tech/masstock/internal/queue"
	"github.com/remiges-tech/masstock/internal/repo"
	"github.com/remiges-tech/masstock/internal/wscutils"
)

// Handler wires ExecutionAPI's seven operations against the repo/queue/
// artifact-store capabilities, same dependency-struct shape as
// vouchers.VoucherHandler.
type Handler struct {
	repo      repo.ExecutionRepo
	queue     queue.JobQueue
	artifacts artifactstore.ArtifactStore
	lh        *logharbour.Logger
}

func NewHandler(r repo.ExecutionRepo, q queue.JobQueue, as artifactstore.ArtifactStore, lh *logharbour.Logger) *Handler {
	return &Handler{repo: r, queue: q, artifacts: as, lh: lh}
}

// RegisterHandlers mounts every route behind AuthMiddleware, matching
// vouchers.RegisterVoucherHandlers's one-method-per-route registration.
func (h *Handler) RegisterHandlers(router *gin.Engine, signingKey string) {
	grp := router.Group("/", AuthMiddleware(signingKey))
	grp.POST("/workflows/:id/execute", h.executeWorkflow)
	grp.GET("/workflows", h.listWorkflows)
	grp.GET("/workflows/:id", h.getWorkflow)
	grp.GET("/workflows/executions/all", h.listAllExecutions)
	grp.GET("/workflows/:id/executions", h.listWorkflowExecutions)
	grp.GET("/executions/:id", h.getExecution)
	grp.GET("/executions/:id/batch-results", h.listBatchResults)
}

func (h *Handler) executeWorkflow(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		wscutils.SendError(c, apperr.New(apperr.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow not found"))
		return
	}
	scope, ok := clientScopeFrom(c)
	if !ok {
		wscutils.SendError(c, apperr.New(apperr.KindUnauthorized, "CLIENT_SCOPE_REQUIRED", "caller must be scoped to a client"))
		return
	}

	req, err := bindExecuteRequest(c)
	if err != nil {
		wscutils.SendError(c, err)
		return
	}

	exists, err := h.repo.WorkflowExists(c.Request.Context(), workflowID, scope.ClientID)
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	if !exists {
		wscutils.SendError(c, apperr.New(apperr.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow not found"))
		return
	}

	spec, err := domain.ParseInputSpec(req.InputSpec)
	if err != nil {
		wscutils.SendError(c, apperr.Wrap(apperr.KindValidation, "INVALID_INPUT_SPEC", "input_spec is malformed", err))
		return
	}
	if err := spec.Validate(); err != nil {
		wscutils.SendError(c, apperr.New(apperr.KindValidation, err.Error(), "input_spec failed validation: "+err.Error()))
		return
	}

	images, mimes, err := parsedReferenceImages(c, req.ReferenceImages)
	if err != nil {
		wscutils.SendError(c, err)
		return
	}

	assets := make([]string, 0, len(images))
	for i, img := range images {
		_, path, err := h.artifacts.PutReferenceImage(c.Request.Context(), scope.ClientID, img, mimes[i])
		if err != nil {
			wscutils.SendError(c, err)
			return
		}
		assets = append(assets, path)
	}

	userID := userFrom(c)
	exec, err := h.repo.CreateExecution(c.Request.Context(), scope, workflowID, userID, spec.Type(), spec)
	if err != nil {
		wscutils.SendError(c, err)
		return
	}

	job := domain.Job{
		ExecutionID:     exec.ID,
		WorkflowID:      workflowID,
		ClientID:        scope.ClientID,
		UserID:          userID,
		WorkflowType:    spec.Type(),
		InputSpec:       spec,
		ReferenceAssets: assets,
	}
	if _, err := h.queue.Enqueue(c.Request.Context(), job); err != nil {
		// Execution is already persisted in `pending`; per §4.7 a janitor
		// (out of scope) reaps it rather than the request failing outright.
		h.lh.Error(err).LogActivity("enqueue failed after execution persisted, execution left pending for reap", map[string]any{"execution_id": exec.ID})
	}

	wscutils.SendSuccess(c, http.StatusAccepted, gin.H{"execution_id": exec.ID, "status": domain.StatusPending})
}

func (h *Handler) listWorkflows(c *gin.Context) {
	workflows, err := h.repo.ListWorkflows(c.Request.Context(), scopeFrom(c))
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	wscutils.SendSuccess(c, http.StatusOK, gin.H{"workflows": workflows})
}

func (h *Handler) getWorkflow(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		wscutils.SendError(c, apperr.New(apperr.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow not found"))
		return
	}
	wf, err := h.repo.GetWorkflow(c.Request.Context(), workflowID, scopeFrom(c))
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	wscutils.SendSuccess(c, http.StatusOK, gin.H{"workflow": wf})
}

func (h *Handler) listWorkflowExecutions(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		wscutils.SendError(c, apperr.New(apperr.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow not found"))
		return
	}
	if _, err := h.repo.GetWorkflow(c.Request.Context(), workflowID, scopeFrom(c)); err != nil {
		wscutils.SendError(c, err)
		return
	}
	filter, err := listFilter(c)
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	filter.WorkflowID = &workflowID

	page, err := h.listExecutions(c, filter)
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	wscutils.SendSuccess(c, http.StatusOK, gin.H{"executions": page.Items, "pagination": pagination(page)})
}

func (h *Handler) listAllExecutions(c *gin.Context) {
	if !requireAdmin(c) {
		wscutils.SendError(c, apperr.New(apperr.KindUnauthorized, "ADMIN_REQUIRED", "caller is not authorized to list all executions"))
		return
	}
	filter, err := listFilter(c)
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	page, err := h.repo.ListExecutionsForAdmin(c.Request.Context(), filter)
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	var fields []string
	if raw := c.Query("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}
	wscutils.SendSuccess(c, http.StatusOK, projectFields(page, fields))
}

// listExecutions dispatches to the client-scoped or admin-wide repo method
// depending on what AuthMiddleware resolved for this caller.
func (h *Handler) listExecutions(c *gin.Context, filter domain.ExecutionFilter) (domain.Page[domain.Execution], error) {
	if cs, ok := clientScopeFrom(c); ok {
		return h.repo.ListExecutions(c.Request.Context(), cs, filter)
	}
	return h.repo.ListExecutionsForAdmin(c.Request.Context(), filter)
}

func (h *Handler) getExecution(c *gin.Context) {
	executionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		wscutils.SendError(c, apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found"))
		return
	}
	exec, err := h.repo.GetExecution(c.Request.Context(), executionID, scopeFrom(c))
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	wscutils.SendSuccess(c, http.StatusOK, gin.H{"execution": exec})
}

func (h *Handler) listBatchResults(c *gin.Context) {
	executionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		wscutils.SendError(c, apperr.New(apperr.KindNotFound, "EXECUTION_NOT_FOUND", "execution not found"))
		return
	}
	results, err := h.repo.ListBatchResults(c.Request.Context(), executionID, scopeFrom(c))
	if err != nil {
		wscutils.SendError(c, err)
		return
	}
	wscutils.SendSuccess(c, http.StatusOK, gin.H{"results": results})
}

func pagination(page domain.Page[domain.Execution]) gin.H {
	return gin.H{"total": page.Total, "limit": page.Limit, "offset": page.Offset, "has_more": page.HasMore}
}
