package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/history"
)

type assetTypeInfo struct {
	*asset.Descriptor
	BlockingStatuses []string `json:"blockingStatuses"`
}

func (s *Server) listAssetTypesHandler(w http.ResponseWriter, r *http.Request) {
	infos := make([]assetTypeInfo, 0, len(s.services.All()))
	for _, svc := range s.services.All() {
		infos = append(infos, assetTypeInfo{
			Descriptor:       svc.Descriptor(),
			BlockingStatuses: svc.Gate().BlockingStatuses(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "assetTypes": infos})
}

type assetListResponse struct {
	OK    bool          `json:"ok"`
	Items []asset.Asset `json:"items"`
	Size  int           `json:"size"`
}

func (s *Server) listAssetsHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	view := asset.View(r.URL.Query().Get("view"))
	if view == "" {
		view = asset.ViewActive
	}
	items, err := svc.List(r.Context(), view)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if items == nil {
		items = []asset.Asset{}
	}
	writeJSON(w, http.StatusOK, assetListResponse{OK: true, Items: items, Size: len(items)})
}

type assetResponse struct {
	OK    bool         `json:"ok"`
	ID    uint         `json:"id,omitempty"`
	Asset *asset.Asset `json:"asset"`
}

func (s *Server) getAssetHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	a, err := svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, assetResponse{OK: true, ID: a.ID, Asset: a})
}

type createAssetRequest struct {
	credentials
	Fields           map[string]string `json:"fields" validate:"required"`
	ConditionStatus  string            `json:"condition_status"`
	ProductionStatus string            `json:"production_status"`
	Remarks          string            `json:"remarks"`
}

func (s *Server) createAssetHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	req, err := decode[createAssetRequest](r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	actor, err := s.authenticate(r, req.credentials)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	a, err := svc.Create(r.Context(), actor, asset.NewAsset{
		Fields:           req.Fields,
		ConditionStatus:  req.ConditionStatus,
		ProductionStatus: req.ProductionStatus,
		Remarks:          req.Remarks,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, assetResponse{OK: true, ID: a.ID, Asset: a})
}

type updateResponse struct {
	OK      bool         `json:"ok"`
	Changes int          `json:"changes"`
	Asset   *asset.Asset `json:"asset"`
}

// replaceAssetRequest carries the full descriptive field set. Status fields are
// only changed when present.
type replaceAssetRequest struct {
	credentials
	Fields           map[string]string `json:"fields" validate:"required"`
	Remarks          string            `json:"remarks"`
	ConditionStatus  *string           `json:"condition_status"`
	ProductionStatus *string           `json:"production_status"`
}

func (s *Server) replaceAssetHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	req, err := decode[replaceAssetRequest](r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	actor, err := s.authenticate(r, req.credentials)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	values := make(map[string]string, len(req.Fields)+3)
	for k, v := range req.Fields {
		values[k] = v
	}
	values[asset.FieldRemarks] = req.Remarks
	if req.ConditionStatus != nil {
		values[asset.FieldConditionStatus] = *req.ConditionStatus
	}
	if req.ProductionStatus != nil {
		values[asset.FieldProductionStatus] = *req.ProductionStatus
	}

	res, err := svc.Replace(r.Context(), actor, id, values)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{OK: true, Changes: res.Changes, Asset: res.Asset})
}

// patchAssetRequest names exactly the fields to change.
type patchAssetRequest struct {
	credentials
	Fields           map[string]string `json:"fields"`
	Remarks          *string           `json:"remarks"`
	ConditionStatus  *string           `json:"condition_status"`
	ProductionStatus *string           `json:"production_status"`
}

func (req patchAssetRequest) patch() asset.Patch {
	p := make(asset.Patch, len(req.Fields)+3)
	for k, v := range req.Fields {
		p[k] = v
	}
	if req.Remarks != nil {
		p[asset.FieldRemarks] = *req.Remarks
	}
	if req.ConditionStatus != nil {
		p[asset.FieldConditionStatus] = *req.ConditionStatus
	}
	if req.ProductionStatus != nil {
		p[asset.FieldProductionStatus] = *req.ProductionStatus
	}
	return p
}

func (s *Server) patchAssetHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	req, err := decode[patchAssetRequest](r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	actor, err := s.authenticate(r, req.credentials)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	res, err := svc.Patch(r.Context(), actor, id, req.patch())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{OK: true, Changes: res.Changes, Asset: res.Asset})
}

func (s *Server) deleteAssetHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	// Credentials may come from a bearer token alone, so an empty body is allowed.
	var body credentials
	if r.Header.Get("Authorization") == "" {
		if body, err = decode[credentials](r); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, s.logger, err)
			return
		}
	}
	actor, err := s.authenticate(r, body)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	removed, err := svc.Delete(r.Context(), actor, id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "historyRemoved": removed})
}

type actionRequest struct {
	credentials
	Action  string `json:"action" validate:"required"`
	Remarks string `json:"remarks"`
}

func (s *Server) actionHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	req, err := decode[actionRequest](r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	actor, err := s.authenticate(r, req.credentials)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	res, err := svc.ApplyAction(r.Context(), actor, id, req.Action, req.Remarks)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"action":  res.Asset.ConditionStatus,
		"changes": res.Changes,
		"asset":   res.Asset,
	})
}

type historyResponse struct {
	OK            bool            `json:"ok"`
	Items         []history.Entry `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
	Size          int             `json:"size"`
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := s.lookupService(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	pageSize, pageToken := pageParams(r)
	entries, next, err := svc.ListHistory(r.Context(), id, r.URL.Query().Get("column"), pageSize, pageToken)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{OK: true, Items: entries, NextPageToken: next, Size: len(entries)})
}
