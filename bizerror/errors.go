package bizerror

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrOperationInFlight = errors.New("operation already in flight")
	ErrTooManyRequests   = errors.New("too many requests, retry later")
)

// Category groups failures the way they are reported to operators.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryConflict   Category = "conflict"
	CategoryAuth       Category = "auth"
	CategoryNotFound   Category = "not_found"
	CategoryServer     Category = "server"
	CategoryNetwork    Category = "network"
	CategoryUnknown    Category = "unknown"
)

type BizError interface {
	Respond() *BizErrorDetail
}

type BizErrorDetail struct {
	Status  int
	Code    string
	Message string

	Data  interface{}
	Cause error
}

type ErrBadParam struct {
	Cause error
}

func (e *ErrBadParam) Unwrap() error {
	return e.Cause
}
func (e *ErrBadParam) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "common.bad_param"
}
func (e *ErrBadParam) Respond() *BizErrorDetail {
	return &BizErrorDetail{Status: http.StatusBadRequest, Code: "common.bad_param", Message: e.Error()}
}

// ErrValidation is raised before dispatch; no remote call has been made.
type ErrValidation struct {
	Code    string
	Message string
	Fields  []string
}

func NewValidation(code, message string, fields ...string) *ErrValidation {
	return &ErrValidation{Code: code, Message: message, Fields: fields}
}

func (e *ErrValidation) Error() string {
	if len(e.Fields) > 0 {
		return e.Message + ": " + strings.Join(e.Fields, ", ")
	}
	return e.Message
}
func (e *ErrValidation) Respond() *BizErrorDetail {
	var data interface{}
	if len(e.Fields) > 0 {
		data = e.Fields
	}
	return &BizErrorDetail{Status: http.StatusBadRequest, Code: e.Code, Message: e.Message, Data: data}
}

// ErrConflict is a 400 answer of the collaborator: invalid transition, insufficient stock, bay taken.
type ErrConflict struct {
	Message string
	Cause   error
}

func (e *ErrConflict) Error() string { return e.Message }
func (e *ErrConflict) Unwrap() error { return e.Cause }
func (e *ErrConflict) Respond() *BizErrorDetail {
	return &BizErrorDetail{Status: http.StatusConflict, Code: "remote.conflict", Message: e.Message, Cause: e.Cause}
}

type ErrAuth struct {
	Status  int
	Message string
	Cause   error
}

func (e *ErrAuth) Error() string { return e.Message }
func (e *ErrAuth) Unwrap() error { return e.Cause }
func (e *ErrAuth) Respond() *BizErrorDetail {
	if e.Status == http.StatusUnauthorized {
		return &BizErrorDetail{Status: e.Status, Code: "common.unauthenticated", Message: e.Message, Cause: e.Cause}
	}
	return &BizErrorDetail{Status: http.StatusForbidden, Code: "security.forbidden", Message: e.Message, Cause: e.Cause}
}

type ErrNotFound struct {
	Message string
	Cause   error
}

func (e *ErrNotFound) Error() string { return e.Message }
func (e *ErrNotFound) Unwrap() error { return e.Cause }
func (e *ErrNotFound) Respond() *BizErrorDetail {
	return &BizErrorDetail{Status: http.StatusNotFound, Code: "common.record_not_found", Message: e.Message, Cause: e.Cause}
}

type ErrServer struct {
	Status  int
	Message string
	Cause   error
}

func (e *ErrServer) Error() string { return e.Message }
func (e *ErrServer) Unwrap() error { return e.Cause }
func (e *ErrServer) Respond() *BizErrorDetail {
	return &BizErrorDetail{Status: http.StatusBadGateway, Code: "remote.server_error", Message: e.Message, Cause: e.Cause}
}

// ErrNetwork means no answer was received, so the outcome on the server is unknown.
type ErrNetwork struct {
	Cause error
}

func (e *ErrNetwork) Error() string {
	if e.Cause != nil {
		return "network error: " + e.Cause.Error()
	}
	return "network error"
}
func (e *ErrNetwork) Unwrap() error { return e.Cause }
func (e *ErrNetwork) Respond() *BizErrorDetail {
	return &BizErrorDetail{Status: http.StatusBadGateway, Code: "remote.unreachable", Message: e.Error(), Cause: e.Cause}
}

// Classify maps a non-2xx status of the collaborator API to the error taxonomy.
func Classify(status int, message string, cause error) error {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ErrAuth{Status: status, Message: message, Cause: cause}
	case status == http.StatusNotFound:
		return &ErrNotFound{Message: message, Cause: cause}
	case status == http.StatusUnprocessableEntity:
		return &ErrValidation{Code: "remote.validation_failed", Message: message}
	case status >= 400 && status < 500:
		return &ErrConflict{Message: message, Cause: cause}
	default:
		return &ErrServer{Status: status, Message: message, Cause: cause}
	}
}

func CategoryOf(err error) Category {
	var validationErr *ErrValidation
	var badParamErr *ErrBadParam
	var conflictErr *ErrConflict
	var authErr *ErrAuth
	var notFoundErr *ErrNotFound
	var serverErr *ErrServer
	var networkErr *ErrNetwork
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr), errors.As(err, &badParamErr), errors.Is(err, ErrOperationInFlight), errors.Is(err, ErrTooManyRequests):
		return CategoryValidation
	case errors.As(err, &conflictErr):
		return CategoryConflict
	case errors.As(err, &authErr), errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrForbidden):
		return CategoryAuth
	case errors.As(err, &notFoundErr):
		return CategoryNotFound
	case errors.As(err, &serverErr):
		return CategoryServer
	case errors.As(err, &networkErr):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

// IsOutcomeUnknown is true when a write may or may not have reached the server.
func IsOutcomeUnknown(err error) bool {
	c := CategoryOf(err)
	return c == CategoryNetwork || c == CategoryServer && isGatewayTimeout(err)
}

func isGatewayTimeout(err error) bool {
	var serverErr *ErrServer
	return errors.As(err, &serverErr) && (serverErr.Status == http.StatusGatewayTimeout || serverErr.Status == http.StatusBadGateway)
}
