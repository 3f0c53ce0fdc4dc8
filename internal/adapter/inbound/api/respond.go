package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonny/sentinel/internal/adapter/inbound/api/middleware"
	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
	"github.com/jonny/sentinel/pkg/apierror"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    any             `json:"data,omitempty"`
	Error   *apierror.Error `json:"error,omitempty"`
	Meta    *pageMeta       `json:"meta,omitempty"`
}

type pageMeta struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

func respondPage[T any](w http.ResponseWriter, page outbound.PageResult[T]) {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	writeEnvelope(w, http.StatusOK, envelope{
		Success: true,
		Data:    items,
		Meta:    &pageMeta{Total: page.TotalCount, Page: page.Page, Size: page.Size},
	})
}

func respondError(w http.ResponseWriter, err error) {
	apiErr := apierror.FromDomain(err)
	writeEnvelope(w, apiErr.Code, envelope{Error: apiErr})
}

func respondStatus(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Error: &apierror.Error{Code: status, Message: msg}})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes the request body into dst, rejecting unknown fields.
// An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

// actor picks the caller identity: the authenticated principal when the token
// is named, otherwise the value supplied in the body.
func actor(r *http.Request, fromBody string) string {
	if p := middleware.PrincipalFrom(r.Context()); p != "" {
		return p
	}
	return strings.TrimSpace(fromBody)
}

func pageRequest(r *http.Request) (outbound.PageRequest, error) {
	q := r.URL.Query()
	var page outbound.PageRequest
	var err error
	if page.Page, err = intParam(q.Get("page"), "page", 0); err != nil {
		return page, err
	}
	if page.Size, err = intParam(q.Get("size"), "size", 0); err != nil {
		return page, err
	}
	if page.Size > 200 {
		return page, model.NewValidationError("size", "must be at most 200")
	}
	page.OrderBy = q.Get("order_by")
	page.Desc = q.Get("order") != "asc"
	return page, nil
}

func intParam(raw, field string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.NewValidationError(field, "must be a non-negative integer")
	}
	return n, nil
}

func timeParam(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, model.NewValidationError(field, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func boolParam(raw, field string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.NewValidationError(field, "must be true or false")
	}
	return b, nil
}
