package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// CodeDecodeFailed marks a 2xx response whose body does not match the
// expected shape.
const CodeDecodeFailed = "RESPONSE_DECODE_ERROR"

// errorBody is the JSON error document returned by the backend:
//
//	{"code": "VALIDATION_ERROR", "message": "...", "detail": "...",
//	 "field": "email", "errors": [...], "meta": {...}}
//
// errors is either a list of {field, message} objects or an object mapping
// field names to a message or a list of messages.
type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Field   string          `json:"field"`
	Errors  json.RawMessage `json:"errors"`
	Meta    map[string]any  `json:"meta"`
}

type fieldErrorBody struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// categoryForStatus maps an HTTP status to an error category.
func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return goerrors.CategoryValidation
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= 500:
		return goerrors.CategoryInternal
	default:
		return goerrors.CategoryBadInput
	}
}

// decodeError turns a non-2xx response into a *goerrors.Error. The backend's
// code and message are kept verbatim.
func decodeError(status int, raw []byte, requestID string) *goerrors.Error {
	var body errorBody
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = errorBody{Detail: strings.TrimSpace(string(raw))}
		}
	}

	message := body.Message
	if message == "" {
		message = http.StatusText(status)
	}

	e := goerrors.New(message, categoryForStatus(status)).WithCode(status)
	if body.Code != "" {
		e = e.WithTextCode(body.Code)
	}

	meta := make(map[string]any, len(body.Meta)+2)
	for k, v := range body.Meta {
		meta[k] = v
	}
	if body.Detail != "" {
		meta["detail"] = body.Detail
	}
	if requestID != "" {
		meta["request_id"] = requestID
	}
	if len(meta) > 0 {
		e.Metadata = meta
	}

	if fields := fieldErrors(body); len(fields) > 0 {
		e.ValidationErrors = fields
	}
	return e
}

func fieldErrors(body errorBody) goerrors.ValidationErrors {
	var out goerrors.ValidationErrors
	if body.Field != "" {
		msg := body.Detail
		if msg == "" {
			msg = body.Message
		}
		out = append(out, goerrors.FieldError{Field: body.Field, Message: msg})
	}
	if len(body.Errors) == 0 {
		return out
	}

	var list []fieldErrorBody
	if err := json.Unmarshal(body.Errors, &list); err == nil {
		for _, fe := range list {
			out = append(out, goerrors.FieldError{Field: fe.Field, Message: fe.Message})
		}
		return out
	}

	var byField map[string]json.RawMessage
	if err := json.Unmarshal(body.Errors, &byField); err != nil {
		return out
	}
	names := make([]string, 0, len(byField))
	for name := range byField {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var one string
		if err := json.Unmarshal(byField[name], &one); err == nil {
			out = append(out, goerrors.FieldError{Field: name, Message: one})
			continue
		}
		var many []string
		if err := json.Unmarshal(byField[name], &many); err == nil {
			for _, msg := range many {
				out = append(out, goerrors.FieldError{Field: name, Message: msg})
			}
		}
	}
	return out
}

// CategoryOf returns the category of an API error.
func CategoryOf(err error) (goerrors.Category, bool) {
	var e *goerrors.Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Category, true
}

// StatusOf returns the HTTP status carried by an API error, or 0.
func StatusOf(err error) int {
	var e *goerrors.Error
	if !errors.As(err, &e) {
		return 0
	}
	return e.Code
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == goerrors.CategoryNotFound
}

// IsRetryable reports whether repeating the same read may succeed:
// transport failures, rate limiting and server errors. A success body that
// fails to decode is not retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	c, ok := CategoryOf(err)
	if !ok {
		return true
	}
	switch c {
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit, goerrors.CategoryInternal:
		return true
	default:
		return false
	}
}

// RetryPolicy adapts IsRetryable to the store's retry hook.
func RetryPolicy(_ int, err error) bool {
	return IsRetryable(err)
}
