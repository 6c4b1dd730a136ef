// Package api provides the HTTP/WebSocket server for steered generation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
)

// HandlerFunc is the function signature for API handlers.
type HandlerFunc func(w http.ResponseWriter, r *http.Request)

type route struct {
	method   string
	segments []string
	handler  HandlerFunc
}

// Router is a small HTTP router that supports :param path segments.
// Routes are matched in registration order.
type Router struct {
	routes []route

	// NotFound is called when no route matches.
	NotFound http.Handler
}

// NewRouter creates a Router.
func NewRouter() *Router {
	return &Router{
		NotFound: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, http.StatusNotFound, "not_found", "The requested resource was not found")
		}),
	}
}

// Handle registers a handler for method and pattern, e.g. /api/vectors/:name.
func (rt *Router) Handle(method, pattern string, handler HandlerFunc) {
	rt.routes = append(rt.routes, route{method: method, segments: split(pattern), handler: handler})
}

func (rt *Router) GET(pattern string, handler HandlerFunc)    { rt.Handle(http.MethodGet, pattern, handler) }
func (rt *Router) POST(pattern string, handler HandlerFunc)   { rt.Handle(http.MethodPost, pattern, handler) }
func (rt *Router) DELETE(pattern string, handler HandlerFunc) { rt.Handle(http.MethodDelete, pattern, handler) }

// ServeHTTP implements http.Handler. A path that matches with the wrong method
// gets 405 rather than 404.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := split(r.URL.Path)
	methodMismatch := false

	for _, rte := range rt.routes {
		params, ok := match(rte.segments, path)
		if !ok {
			continue
		}
		if rte.method != r.Method {
			methodMismatch = true
			continue
		}
		if len(params) > 0 {
			r = r.WithContext(context.WithValue(r.Context(), pathParamsKey, params))
		}
		rte.handler(w, r)
		return
	}

	if methodMismatch {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method "+r.Method+" is not allowed here")
		return
	}
	rt.NotFound.ServeHTTP(w, r)
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func match(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}

type contextKey string

const pathParamsKey contextKey = "pathParams"

// PathParam returns a path parameter captured by the router.
func PathParam(r *http.Request, name string) string {
	params, _ := r.Context().Value(pathParamsKey).(map[string]string)
	return params[name]
}

// -----------------------------------------------------------------------------
// Response Helpers
// -----------------------------------------------------------------------------

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError is the error half of the envelope.
type APIError struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Context     map[string]string `json:"context,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

// WriteJSON writes data in the envelope with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeAPIError(w, status, &APIError{Code: code, Message: message})
}

func writeAPIError(w http.ResponseWriter, status int, e *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Error: e})
}

// WriteErr maps err to a status code by its category and writes it. Errors that
// are not PalinorErrors are reported as internal.
func WriteErr(w http.ResponseWriter, err error) {
	status, e := toAPIError(err)
	writeAPIError(w, status, e)
}

func toAPIError(err error) (int, *APIError) {
	pe, ok := perrors.AsPalinorError(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusRequestTimeout, &APIError{Code: "canceled", Message: err.Error()}
		}
		return http.StatusInternalServerError, &APIError{Code: perrors.ErrInternal, Message: err.Error()}
	}
	return statusFor(pe), &APIError{
		Code:        pe.Code,
		Message:     pe.Message,
		Context:     pe.Context,
		Suggestions: pe.Suggestions,
	}
}

func statusFor(pe *perrors.PalinorError) int {
	switch {
	case pe.Code == perrors.ErrVectorNotFound, errors.Is(pe, fs.ErrNotExist):
		return http.StatusNotFound
	case pe.Category == perrors.CategoryValidation, pe.Category == perrors.CategoryConfig, pe.Category == perrors.CategoryCommand:
		return http.StatusBadRequest
	case pe.Category == perrors.CategoryState:
		return http.StatusConflict
	case pe.Category == perrors.CategoryDevice:
		return http.StatusServiceUnavailable
	case pe.Category == perrors.CategorySerialization:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// ReadJSON decodes the request body into target, rejecting unknown fields.
func ReadJSON(r *http.Request, target interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return perrors.ValidationWrap(err, perrors.ErrValidationInvalidValue, "request body is not valid JSON for this endpoint")
	}
	return nil
}
