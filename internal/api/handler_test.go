package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/masstock/internal/artifactstore"
	"github.com/remiges-tech/masstock/internal/domain"
	"github.com/remiges-tech/masstock/internal/logger"
	"github.com/remiges-tech/masstock/internal/queue"
	"github.com/remiges-tech/masstock/internal/repo"
)

const testSigningKey = "test-signing-key-not-for-production"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *repo.Fake, *queue.Fake, *artifactstore.Fake) {
	t.Helper()
	r := repo.NewFake()
	q := queue.NewFake()
	as := artifactstore.NewFake()
	lh := logger.New("api_test", io.Discard)
	h := NewHandler(r, q, as, lh)
	return NewRouter(h, testSigningKey, []string{"*"}), r, q, as
}

func signToken(t *testing.T, clientID, userID uuid.UUID, admin bool) string {
	t.Helper()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		ClientID:         clientID.String(),
		UserID:           userID.String(),
		Admin:            admin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return signed
}

func doRequest(router *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestExecuteWorkflow_AcceptsAndEnqueues(t *testing.T) {
	router, r, q, _ := newTestRouter(t)
	clientID, userID, workflowID := uuid.New(), uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)
	token := signToken(t, clientID, userID, false)

	body, _ := json.Marshal(map[string]any{
		"input_spec": map[string]any{"workflow_type": "standard", "prompts": []string{"a cat riding a bike"}},
	})
	rec := doRequest(router, http.MethodPost, "/workflows/"+workflowID.String()+"/execute", token, body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ExecutionID uuid.UUID `json:"execution_id"`
			Status      string    `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "pending", resp.Data.Status)

	var enqueued []domain.Job
	require.NoError(t, q.Consume(t.Context(), func(_ context.Context, job domain.Job, _ func(int)) error {
		enqueued = append(enqueued, job)
		return nil
	}, 1))
	require.Len(t, enqueued, 1)
	assert.Equal(t, resp.Data.ExecutionID, enqueued[0].ExecutionID)

	dead, err := q.DeadLetters(t.Context())
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestExecuteWorkflow_MultipartAcceptsFormFieldInputSpec(t *testing.T) {
	router, r, q, _ := newTestRouter(t)
	clientID, userID, workflowID := uuid.New(), uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)
	token := signToken(t, clientID, userID, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("input_spec", `{"workflow_type":"standard","prompts":["a dog on a skateboard"]}`))
	part, err := mw.CreateFormFile("reference_images", "ref.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/workflows/"+workflowID.String()+"/execute", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	dead, err := q.DeadLetters(t.Context())
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestExecuteWorkflow_UnknownWorkflowIsNotFound(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	clientID, userID := uuid.New(), uuid.New()
	token := signToken(t, clientID, userID, false)

	body, _ := json.Marshal(map[string]any{
		"input_spec": map[string]any{"workflow_type": "standard", "prompts": []string{"x"}},
	})
	rec := doRequest(router, http.MethodPost, "/workflows/"+uuid.New().String()+"/execute", token, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteWorkflow_EmptyPromptsIsValidationError(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	clientID, userID, workflowID := uuid.New(), uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)
	token := signToken(t, clientID, userID, false)

	body, _ := json.Marshal(map[string]any{
		"input_spec": map[string]any{"workflow_type": "nano_banana", "prompts": []string{}},
	})
	rec := doRequest(router, http.MethodPost, "/workflows/"+workflowID.String()+"/execute", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteWorkflow_NoBearerTokenIsUnauthorized(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	body, _ := json.Marshal(map[string]any{"input_spec": map[string]any{"workflow_type": "standard", "prompts": []string{"x"}}})
	rec := doRequest(router, http.MethodPost, "/workflows/"+uuid.New().String()+"/execute", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetExecution_InvisibleToOtherClientIsNotFound(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	owner, other, workflowID := uuid.New(), uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, owner)
	exec, err := r.CreateExecution(t.Context(), domain.ClientScope{ClientID: owner}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)

	token := signToken(t, other, uuid.New(), false)
	rec := doRequest(router, http.MethodGet, "/executions/"+exec.ID.String(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExecution_VisibleToOwningClient(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	clientID, workflowID := uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)
	exec, err := r.CreateExecution(t.Context(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)

	token := signToken(t, clientID, uuid.New(), false)
	rec := doRequest(router, http.MethodGet, "/executions/"+exec.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListBatchResults_OrderedByBatchIndex(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	clientID, workflowID := uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientID)
	spec := &domain.NanoBananaSpec{Prompts: []string{"a", "b", "c"}}
	exec, err := r.CreateExecution(t.Context(), domain.ClientScope{ClientID: clientID}, workflowID, uuid.New(), domain.WorkflowNanoBanana, spec)
	require.NoError(t, err)
	require.NoError(t, r.PreCreateBatches(t.Context(), exec.ID, spec.Tasks()))
	require.NoError(t, r.WriteBatchResult(t.Context(), exec.ID, 1, repo.BatchOutcome{Status: domain.BatchCompleted, ResultURL: "u1"}))
	require.NoError(t, r.WriteBatchResult(t.Context(), exec.ID, 0, repo.BatchOutcome{Status: domain.BatchCompleted, ResultURL: "u0"}))

	token := signToken(t, clientID, uuid.New(), false)
	rec := doRequest(router, http.MethodGet, "/executions/"+exec.ID.String()+"/batch-results", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Results []domain.BatchResult `json:"results"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Results, 3)
	assert.Equal(t, 0, resp.Data.Results[0].BatchIndex)
	assert.Equal(t, 1, resp.Data.Results[1].BatchIndex)
}

func TestListAllExecutions_RequiresAdminScope(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	token := signToken(t, uuid.New(), uuid.New(), false)
	rec := doRequest(router, http.MethodGet, "/workflows/executions/all", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListAllExecutions_AdminSeesEveryClient(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	clientA, clientB, workflowID := uuid.New(), uuid.New(), uuid.New()
	r.RegisterWorkflow(workflowID, clientA)
	_, err := r.CreateExecution(t.Context(), domain.ClientScope{ClientID: clientA}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "x"})
	require.NoError(t, err)
	_, err = r.CreateExecution(t.Context(), domain.ClientScope{ClientID: clientB}, workflowID, uuid.New(), domain.WorkflowStandard, &domain.StandardSpec{Prompt: "y"})
	require.NoError(t, err)

	token := signToken(t, uuid.New(), uuid.New(), true)
	rec := doRequest(router, http.MethodGet, "/workflows/executions/all", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data domain.Page[domain.Execution] `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Total)
}

func TestListWorkflows_ScopedToCallersClient(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	clientID, other := uuid.New(), uuid.New()
	r.RegisterWorkflow(uuid.New(), clientID)
	r.RegisterWorkflow(uuid.New(), other)

	token := signToken(t, clientID, uuid.New(), false)
	rec := doRequest(router, http.MethodGet, "/workflows", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Workflows []domain.Workflow `json:"workflows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Workflows, 1)
}
