// Package response renders results and core errors as a uniform JSON body
// {code, message, data} with a status from a fixed set.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// Status pairs an HTTP status code with its default message.
type Status struct {
	Code    int
	Message string
}

// The fixed status set. Handlers never write any other code.
var (
	StatusSuccess      = Status{Code: http.StatusOK, Message: "success"}
	StatusBadRequest   = Status{Code: http.StatusBadRequest, Message: "bad request"}
	StatusUnauthorized = Status{Code: http.StatusUnauthorized, Message: "unauthorized"}
	StatusForbidden    = Status{Code: http.StatusForbidden, Message: "forbidden"}
	StatusNotFound     = Status{Code: http.StatusNotFound, Message: "resource not found"}
	StatusValidation   = Status{Code: http.StatusUnprocessableEntity, Message: "validation failed"}
	StatusRateLimited  = Status{Code: http.StatusTooManyRequests, Message: "too many requests"}
	StatusInternal     = Status{Code: http.StatusInternalServerError, Message: "internal server error"}
)

var statuses = []Status{
	StatusSuccess,
	StatusBadRequest,
	StatusUnauthorized,
	StatusForbidden,
	StatusNotFound,
	StatusValidation,
	StatusRateLimited,
	StatusInternal,
}

// StatusByCode looks up a member of the fixed set.
func StatusByCode(code int) (Status, bool) {
	for _, s := range statuses {
		if s.Code == code {
			return s, true
		}
	}
	return Status{}, false
}

// Body is the envelope every response uses.
type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Mapper turns errors into a Status and Body. The zero value is not usable;
// call NewMapper.
type Mapper struct {
	failed Status
	cache  Status
	rules  []rule
}

type rule struct {
	target error
	status Status
}

// MapperOption configures a Mapper.
type MapperOption func(*Mapper)

// WithAuthenticationFailedStatus sets the status for a presented credential
// that did not resolve. Deployments that want to tell "log in" apart from
// "your login is bad" use StatusForbidden. Default StatusUnauthorized.
func WithAuthenticationFailedStatus(s Status) MapperOption {
	return func(m *Mapper) {
		m.failed = s
	}
}

// WithCacheUnavailableStatus sets the status for a session backend outage.
// Default StatusInternal.
func WithCacheUnavailableStatus(s Status) MapperOption {
	return func(m *Mapper) {
		m.cache = s
	}
}

// WithError maps errors matching target (errors.Is) to s with err.Error() as
// the message. Rules are checked in order before the core kinds.
func WithError(target error, s Status) MapperOption {
	return func(m *Mapper) {
		m.rules = append(m.rules, rule{target: target, status: s})
	}
}

// NewMapper returns a Mapper with the default policy adjusted by opts.
func NewMapper(opts ...MapperOption) *Mapper {
	m := &Mapper{
		failed: StatusUnauthorized,
		cache:  StatusInternal,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultMapper is used by Error.
var DefaultMapper = NewMapper()

// Body returns the status and envelope for err. Internal failures never
// expose err's text.
func (m *Mapper) Body(err error) (Status, Body) {
	if err == nil {
		return StatusSuccess, Body{Code: StatusSuccess.Code, Message: StatusSuccess.Message}
	}
	for _, r := range m.rules {
		if errors.Is(err, r.target) {
			return r.status, Body{Code: r.status.Code, Message: err.Error()}
		}
	}

	var (
		status  Status
		message string
	)
	switch authcore.KindOf(err) {
	case authcore.KindNotAuthenticated:
		status, message = StatusUnauthorized, authcore.ErrNotAuthenticated.Error()
	case authcore.KindTokenExpired:
		status, message = StatusUnauthorized, "token has expired"
	case authcore.KindTokenInvalid:
		status, message = StatusUnauthorized, "token is invalid"
	case authcore.KindAuthenticationFailed:
		status, message = m.failed, authcore.ErrAuthenticationFailed.Error()
	case authcore.KindCacheUnavailable:
		status = m.cache
		message = status.Message
	default:
		status, message = StatusInternal, StatusInternal.Message
	}
	return status, Body{Code: status.Code, Message: message}
}

// Error writes err through m.
func (m *Mapper) Error(w http.ResponseWriter, err error) {
	status, body := m.Body(err)
	write(w, status.Code, body)
}

// JSON writes data under status with message, or the status default when
// message is empty.
func JSON(w http.ResponseWriter, status Status, message string, data any) {
	if message == "" {
		message = status.Message
	}
	write(w, status.Code, Body{Code: status.Code, Message: message, Data: data})
}

// Success writes data with StatusSuccess.
func Success(w http.ResponseWriter, data any) {
	JSON(w, StatusSuccess, "", data)
}

// Error writes err through DefaultMapper.
func Error(w http.ResponseWriter, err error) {
	DefaultMapper.Error(w, err)
}

func write(w http.ResponseWriter, code int, body Body) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
