// Package wscutils provides the standard request/response envelope and
// validation helpers used by internal/api. Adapted from the response
// envelope in alya's wscutils package: same BuildErrorMessage/WscValidate
// shape, re-keyed to the {success, data|error, code} envelope this spec's
// HTTP surface requires instead of alya's {status, data, messages} one.
package wscutils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/remiges-tech/masstock/internal/apperr"
)

// ApiError is the wire shape of an error response, per spec §6.
type ApiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Response is the standard envelope every handler responds with.
type Response struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *ApiError `json:"error,omitempty"`
}

func Success(data any) Response {
	return Response{Success: true, Data: data}
}

// kindStatus maps an apperr.Kind to the HTTP status spec §6/§7 assign it.
func kindStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindQuotaExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// SendError writes err as the standard error envelope, suppressing internal
// detail for unclassified (non *apperr.Error) failures -- central error
// handler per spec §6.
func SendError(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error: &ApiError{
				Status:  http.StatusInternalServerError,
				Code:    "INTERNAL",
				Message: "internal error",
			},
		})
		return
	}
	status := kindStatus(ae.Kind)
	c.JSON(status, Response{
		Success: false,
		Error: &ApiError{
			Status:  status,
			Code:    ae.Code,
			Message: ae.Message,
			Details: ae.Details,
		},
	})
}

// SendSuccess writes data wrapped in the standard envelope with the given
// status code (202 on accepted executions, 200 on reads, per spec §6).
func SendSuccess(c *gin.Context, status int, data any) {
	c.JSON(status, Success(data))
}

// FieldError is one struct-tag validation failure, independent of any HTTP
// framework -- mirrors alya's ErrorMessage.
type FieldError struct {
	Field string   `json:"field"`
	Tag   string   `json:"tag"`
	Vals  []string `json:"vals,omitempty"`
}

var validate = validator.New()

// Validate runs struct-tag validation on data and, if it fails, returns a
// *apperr.Error of KindValidation whose Details is a []FieldError -- same
// two-step shape as alya's WscValidate (collect per-field errors, then let
// the caller build the final message), minus alya's msgid/errcode lookup
// table because this spec's error codes are semantic strings supplied by
// each handler, not a central numeric catalog.
func Validate(data any) error {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindValidation, "INVALID_REQUEST", "request failed validation", err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Tag: fe.Tag()})
	}
	return apperr.New(apperr.KindValidation, "INVALID_REQUEST", "request failed validation").WithDetails(fields)
}

// BindJSON decodes the request body into data and validates it, returning
// an *apperr.Error on either failure -- mirrors alya's BindJSON+WscValidate
// pairing used by every handler.
func BindJSON(c *gin.Context, data any) error {
	if err := c.ShouldBindJSON(data); err != nil {
		return apperr.Wrap(apperr.KindValidation, "INVALID_JSON", "request body is not valid JSON", err)
	}
	return Validate(data)
}
