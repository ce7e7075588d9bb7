package server

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/cycle"
	"github.com/shopfloor/isos/pkg/service"
)

// scanRequest is the body of an OUT or IN scan. Credentials are optional: without
// them the operator is recorded as the actor.
type scanRequest struct {
	credentials
	Key          string            `json:"key" validate:"required"`
	OperatorID   string            `json:"operator_id" validate:"required"`
	Checklist    map[string]string `json:"checklist"`
	Measurements map[string]string `json:"measurements"`
	Remarks      string            `json:"remarks"`
}

type scanResponse struct {
	OK bool `json:"ok"`
	// Status is the checklist outcome, OK or NG.
	Status string `json:"status"`
	service.CycleResult
}

type transitionFunc func(svc *service.Service, r *http.Request, actor string, req scanRequest) (*service.CycleResult, error)

func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request, step transitionFunc) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	req, err := decode[scanRequest](r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	actor, err := s.optionalActor(r, req.credentials)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	res, err := step(svc, r, actor, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{OK: true, Status: res.Cycle.Outcome, CycleResult: *res})
}

func (req scanRequest) input() cycle.Input {
	return cycle.Input{Checklist: req.Checklist, Measurements: req.Measurements, Remarks: req.Remarks}
}

func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	s.scanHandler(w, r, func(svc *service.Service, r *http.Request, actor string, req scanRequest) (*service.CycleResult, error) {
		return svc.Checkout(r.Context(), actor, req.Key, req.OperatorID, req.input())
	})
}

func (s *Server) checkinHandler(w http.ResponseWriter, r *http.Request) {
	s.scanHandler(w, r, func(svc *service.Service, r *http.Request, actor string, req scanRequest) (*service.CycleResult, error) {
		return svc.Checkin(r.Context(), actor, req.Key, req.OperatorID, req.input())
	})
}

type activeCycleResponse struct {
	OK bool `json:"ok"`
	service.ActiveCycle
}

func (s *Server) activeCycleHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		writeError(w, s.logger, apperr.Validation("invalid %s", svc.Descriptor().KeyField))
		return
	}
	active, err := svc.LookupActiveCycle(r.Context(), key)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, activeCycleResponse{OK: true, ActiveCycle: *active})
}

type cycleListResponse struct {
	OK            bool         `json:"ok"`
	Items         []cycle.View `json:"items"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
	Size          int          `json:"size"`
}

func (s *Server) listCyclesHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	pageSize, pageToken := pageParams(r)
	items, next, err := svc.ListCycles(r.Context(), pageSize, pageToken)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if items == nil {
		items = []cycle.View{}
	}
	writeJSON(w, http.StatusOK, cycleListResponse{OK: true, Items: items, NextPageToken: next, Size: len(items)})
}
