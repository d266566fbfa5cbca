package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/domain"
	"github.com/remiges-tech/masstock/internal/wscutils"
)

// maxReferenceImages and maxReferenceImageBytes enforce the count/size
// limits ExecuteWorkflow validates per spec §4.7.
const (
	maxReferenceImages     = 10
	maxReferenceImageBytes = 10 << 20 // 10 MiB
)

// executeRequest is the JSON-body shape of POST /workflows/:id/execute.
// reference_images carries base64-encoded bytes for the JSON path; the
// multipart path (parsedReferenceImages) is read separately.
type executeRequest struct {
	InputSpec       json.RawMessage `json:"input_spec" validate:"required"`
	ReferenceImages []string        `json:"reference_images,omitempty"`
}

// bindExecuteRequest reads the request body per spec §6's "JSON or
// multipart" contract: a multipart/form-data body carries input_spec as a
// plain form field (the files themselves are read separately by
// parsedReferenceImages), anything else is bound as a JSON body the way
// every other handler in this package binds its request.
func bindExecuteRequest(c *gin.Context) (executeRequest, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		raw := c.PostForm("input_spec")
		if raw == "" {
			return executeRequest{}, apperr.New(apperr.KindValidation, "MISSING_INPUT_SPEC", "input_spec form field is required")
		}
		return executeRequest{InputSpec: json.RawMessage(raw)}, nil
	}
	var req executeRequest
	if err := wscutils.BindJSON(c, &req); err != nil {
		return executeRequest{}, err
	}
	return req, nil
}

// parsedReferenceImages decodes whichever upload path the request used and
// enforces the count/size limits, returning apperr-classified validation
// errors so SendError maps them to 400 directly.
func parsedReferenceImages(c *gin.Context, jsonEncoded []string) ([][]byte, []string, error) {
	if form, err := c.MultipartForm(); err == nil && len(form.File["reference_images"]) > 0 {
		return decodeMultipartImages(form.File["reference_images"])
	}
	return decodeBase64Images(jsonEncoded)
}

func decodeBase64Images(encoded []string) ([][]byte, []string, error) {
	if len(encoded) > maxReferenceImages {
		return nil, nil, apperr.New(apperr.KindValidation, "TOO_MANY_REFERENCE_IMAGES", "reference image count exceeds the limit")
	}
	out := make([][]byte, 0, len(encoded))
	mimes := make([]string, 0, len(encoded))
	for _, e := range encoded {
		b, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindValidation, "INVALID_REFERENCE_IMAGE", "reference image is not valid base64", err)
		}
		if len(b) > maxReferenceImageBytes {
			return nil, nil, apperr.New(apperr.KindValidation, "REFERENCE_IMAGE_TOO_LARGE", "reference image exceeds the size limit")
		}
		out = append(out, b)
		mimes = append(mimes, "image/jpeg")
	}
	return out, mimes, nil
}

func decodeMultipartImages(files []*multipart.FileHeader) ([][]byte, []string, error) {
	if len(files) > maxReferenceImages {
		return nil, nil, apperr.New(apperr.KindValidation, "TOO_MANY_REFERENCE_IMAGES", "reference image count exceeds the limit")
	}
	out := make([][]byte, 0, len(files))
	mimes := make([]string, 0, len(files))
	for _, fh := range files {
		if fh.Size > maxReferenceImageBytes {
			return nil, nil, apperr.New(apperr.KindValidation, "REFERENCE_IMAGE_TOO_LARGE", "reference image exceeds the size limit")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindValidation, "INVALID_REFERENCE_IMAGE", "reference image could not be read", err)
		}
		b, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindValidation, "INVALID_REFERENCE_IMAGE", "reference image could not be read", err)
		}
		mime := fh.Header.Get("Content-Type")
		if mime == "" {
			mime = "image/jpeg"
		}
		out = append(out, b)
		mimes = append(mimes, mime)
	}
	return out, mimes, nil
}

// listFilter parses the shared ?limit&offset&status&workflow_id&user_id
// query parameters into a domain.ExecutionFilter.
func listFilter(c *gin.Context) (domain.ExecutionFilter, error) {
	f := domain.ExecutionFilter{Limit: 20}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, apperr.New(apperr.KindValidation, "INVALID_LIMIT", "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, apperr.New(apperr.KindValidation, "INVALID_OFFSET", "offset must be a non-negative integer")
		}
		f.Offset = n
	}
	if v := c.Query("status"); v != "" {
		s := domain.ExecutionStatus(v)
		f.Status = &s
	}
	if v := c.Query("workflow_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, apperr.New(apperr.KindValidation, "INVALID_WORKFLOW_ID", "workflow_id is not a valid uuid")
		}
		f.WorkflowID = &id
	}
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, apperr.New(apperr.KindValidation, "INVALID_USER_ID", "user_id is not a valid uuid")
		}
		f.UserID = &id
	}
	return f, nil
}

// projectFields trims each execution in page down to the requested keys,
// keeping the pagination fields alongside, backing the ?fields= projection on
// /workflows/executions/all. A nil/empty fields list is a no-op.
func projectFields(page domain.Page[domain.Execution], fields []string) any {
	if len(fields) == 0 {
		return page
	}
	items := make([]map[string]any, 0, len(page.Items))
	for _, e := range page.Items {
		full := map[string]any{
			"id": e.ID, "workflow_id": e.WorkflowID, "client_id": e.ClientID,
			"created_by_user": e.CreatedByUser, "workflow_type": e.WorkflowType,
			"status": e.Status, "progress": e.Progress, "error_message": e.ErrorMessage,
			"started_at": e.StartedAt, "completed_at": e.CompletedAt,
			"duration_seconds": e.DurationSec, "retry_count": e.RetryCount,
			"created_at": e.CreatedAt,
		}
		trimmed := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := full[f]; ok {
				trimmed[f] = v
			}
		}
		items = append(items, trimmed)
	}
	return gin.H{"items": items, "total": page.Total, "limit": page.Limit, "offset": page.Offset, "has_more": page.HasMore}
}
