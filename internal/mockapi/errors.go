package mockapi

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/inflection"
	"github.com/labstack/echo/v4"

	"github.com/goliatone/go-query-cache/internal/logging"
)

// apiError is rendered as the backend's JSON error document.
type apiError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Detail  string            `json:"detail,omitempty"`
	Field   string            `json:"field,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Meta    map[string]any    `json:"meta,omitempty"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func errNotFound(entity string, id any) *apiError {
	return &apiError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %v not found", singular(entity), id),
	}
}

func errConflict(message string, meta map[string]any) *apiError {
	return &apiError{Status: http.StatusConflict, Code: "CONFLICT", Message: message, Meta: meta}
}

func errBadRequest(detail string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "malformed request", Detail: detail}
}

func errInvalidField(field, detail string) *apiError {
	return &apiError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "VALIDATION_ERROR",
		Message: "invalid input",
		Detail:  detail,
		Field:   field,
	}
}

func singular(entity string) string {
	return strings.ReplaceAll(inflection.Singular(entity), "_", " ")
}

// statusCodes names the generic echo errors.
var statusCodes = map[int]string{
	http.StatusBadRequest:            "BAD_REQUEST",
	http.StatusUnauthorized:          "UNAUTHENTICATED",
	http.StatusForbidden:             "FORBIDDEN",
	http.StatusNotFound:              "NOT_FOUND",
	http.StatusMethodNotAllowed:      "METHOD_NOT_ALLOWED",
	http.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	http.StatusUnsupportedMediaType:  "UNSUPPORTED_MEDIA_TYPE",
	http.StatusTooManyRequests:       "RATE_LIMITED",
}

// fieldMessage renders one validator failure.
func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// toAPIError maps handler errors onto the JSON error document.
func toAPIError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		return &apiError{
			Status:  http.StatusUnprocessableEntity,
			Code:    "VALIDATION_ERROR",
			Message: "invalid input",
			Errors:  fields,
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &apiError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "not found"}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if inner, ok := he.Internal.(*echo.HTTPError); ok {
			he = inner
		}
		code, ok := statusCodes[he.Code]
		if !ok {
			code = strings.ToUpper(strings.ReplaceAll(http.StatusText(he.Code), " ", "_"))
		}
		return &apiError{Status: he.Code, Code: code, Message: fmt.Sprint(he.Message)}
	}

	return &apiError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL",
		Message: http.StatusText(http.StatusInternalServerError),
	}
}

// newHTTPErrorHandler renders every error as the JSON error document and
// logs server errors.
func newHTTPErrorHandler(logger logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ae := toAPIError(err)
		if ae.Status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"err", err,
			)
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(ae.Status)
		} else {
			err = c.JSON(ae.Status, ae)
		}
		if err != nil {
			logger.Warn("write error response", "err", err)
		}
	}
}
