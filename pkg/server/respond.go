package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/service"
)

// retryAfterSeconds is advertised on Conflict responses.
const retryAfterSeconds = 1

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	OK    bool        `json:"ok"`
	Kind  apperr.Kind `json:"kind"`
	Error string      `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes err as a JSON error with the status code of its kind.
// Untyped errors are logged and reported as Internal without their details.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	switch kind {
	case apperr.KindInternal:
		logger.Error("request failed", "error", err)
		msg = "internal error"
	case apperr.KindConflict:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, apperr.HTTPStatus(kind), errorResponse{OK: false, Kind: kind, Error: msg})
}

// decode reads a JSON body into T and validates it.
func decode[T any](r *http.Request) (T, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, apperr.Wrap(apperr.KindValidationError, err, "invalid request body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return v, validationError(err)
	}
	return v, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

// lookupService resolves the {assetType} URL parameter.
func (s *Server) lookupService(r *http.Request) (*service.Service, error) {
	name := chi.URLParam(r, "assetType")
	svc, ok := s.services.Lookup(name)
	if !ok {
		return nil, apperr.NotFound("unknown asset type %q", name)
	}
	return svc, nil
}

func idParam(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid asset id %q", raw)
	}
	return uint(id), nil
}

func pageParams(r *http.Request) (int, string) {
	pageSize := 50
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	return pageSize, r.URL.Query().Get("pageToken")
}
