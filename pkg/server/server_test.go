package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/database"
	"github.com/shopfloor/isos/pkg/directory"
	"github.com/shopfloor/isos/pkg/service"
)

var allOK = map[string]string{"cleaned_ok": "OK", "dent_ok": "OK", "mesh_ok": "OK"}

type testServer struct {
	*Server
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Configure(db, 0))

	set := service.NewSet(db, asset.DefaultRegistry(), service.Options{LockTimeout: 5 * time.Second})
	creds := directory.NewCredentials(db, bcrypt.MinCost)
	locker, err := database.NewLocker(db)
	require.NoError(t, err)

	seedCfg := directory.DefaultSeedConfig()
	seedCfg.Users = 2
	seedCfg.Operators = 3
	seed := func(ctx context.Context) error {
		_, err := directory.Seed(ctx, db, creds, seedCfg, nil)
		return err
	}
	require.NoError(t, database.Migrate(context.Background(), locker, nil, seed, append(set.Migrators(), creds)...))

	tokens, err := directory.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)

	srv := New(db, set, creds, tokens, Options{})
	srv.SetReady(true)
	return &testServer{Server: srv, handler: srv.Routes()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) login(t *testing.T, username, password string) http.Header {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/login", map[string]string{"username": username, "password": password}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[loginResponse](t, rec)
	require.NotEmpty(t, res.Token)
	return http.Header{"Authorization": {"Bearer " + res.Token}}
}

func (ts *testServer) createPallet(t *testing.T, auth http.Header, key string) *asset.Asset {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/pallet/assets", map[string]any{
		"fields": map[string]string{"pallet_no": key, "location": "rack-1"},
	}, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[assetResponse](t, rec).Asset
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", decodeBody[map[string]string](t, rec)["status"])

	rec = ts.do(t, http.MethodGet, "/livez", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.SetReady(false)
	rec = ts.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts.SetReady(true)
	rec = ts.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody[map[string]any](t, rec)["status"])
}

func TestCorrelationHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil, http.Header{correlationHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(correlationHeader))

	rec = ts.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.NotEmpty(t, rec.Header().Get(correlationHeader), "generated when absent")
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/login", map[string]string{"username": "User1", "password": "User1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[loginResponse](t, rec)
	assert.True(t, res.OK)
	assert.Equal(t, "EMP001", res.EmpID)

	rec = ts.do(t, http.MethodPost, "/api/login", map[string]string{"username": "User1", "password": "nope"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/login", map[string]string{"username": "User1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "password is required")
}

func TestAssetTypes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/asset-types", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AssetTypes []struct {
			Name             string   `json:"name"`
			KeyField         string   `json:"keyField"`
			BlockingStatuses []string `json:"blockingStatuses"`
		} `json:"assetTypes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.AssetTypes, 2)
	assert.Equal(t, "pallet_no", body.AssetTypes[0].KeyField)
	assert.Contains(t, body.AssetTypes[1].BlockingStatuses, "STENCIL EOL")
}

func TestUnknownAssetType(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/tray/assets", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.KindNotFound, decodeBody[errorResponse](t, rec).Kind)
}

func TestAssetLifecycle(t *testing.T) {
	ts := newTestServer(t)
	auth := ts.login(t, "User1", "User1")

	a := ts.createPallet(t, auth, "p-100")
	assert.Equal(t, "P-100", a.AssetKey)
	assert.Equal(t, "EMP001", a.EmpID)
	assert.Equal(t, "ACTIVE", a.ConditionStatus)

	rec := ts.do(t, http.MethodGet, "/api/PALLET/assets/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RACK-1", decodeBody[assetResponse](t, rec).Asset.Fields["location"])

	rec = ts.do(t, http.MethodGet, "/api/pallet/assets/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/pallet/assets/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Body credentials work as well as a bearer token.
	rec = ts.do(t, http.MethodPatch, "/api/pallet/assets/1", map[string]any{
		"username": "User2",
		"password": "User2",
		"fields":   map[string]string{"location": "line-2"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upd := decodeBody[updateResponse](t, rec)
	assert.Equal(t, 2, upd.Changes)
	assert.Equal(t, "EMP002", upd.Asset.EmpID)

	rec = ts.do(t, http.MethodPost, "/api/pallet/assets/1/actions", map[string]string{"action": "scrap", "remarks": "damaged"}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SCRAP", decodeBody[map[string]any](t, rec)["action"])

	rec = ts.do(t, http.MethodPost, "/api/pallet/assets/1/actions", map[string]string{"action": "explode"}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.KindInvalidAction, decodeBody[errorResponse](t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/pallet/assets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[assetListResponse](t, rec).Size, "scrapped assets are hidden from the active view")

	rec = ts.do(t, http.MethodGet, "/api/pallet/assets?view=received", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[assetListResponse](t, rec).Size)

	rec = ts.do(t, http.MethodDelete, "/api/pallet/assets/1", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodGet, "/api/pallet/assets/1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMutationsRequireCredentials(t *testing.T) {
	ts := newTestServer(t)
	auth := ts.login(t, "User1", "User1")
	ts.createPallet(t, auth, "P-100")

	rec := ts.do(t, http.MethodPatch, "/api/pallet/assets/1", map[string]any{"fields": map[string]string{"location": "x"}}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.KindUnauthorized, decodeBody[errorResponse](t, rec).Kind)

	rec = ts.do(t, http.MethodDelete, "/api/pallet/assets/1", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "an empty body carries no credentials")
	assert.Equal(t, apperr.KindUnauthorized, decodeBody[errorResponse](t, rec).Kind)

	rec = ts.do(t, http.MethodPost, "/api/pallet/assets", map[string]any{"fields": map[string]string{"pallet_no": "P-2"}},
		http.Header{"Authorization": {"Bearer forged"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/pallet/assets", map[string]any{"fields": map[string]string{"pallet_no": "P-2"}},
		http.Header{"Authorization": {"Basic dXNlcjpwYXNz"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCycles(t *testing.T) {
	ts := newTestServer(t)
	auth := ts.login(t, "User1", "User1")
	ts.createPallet(t, auth, "P-100")

	scan := map[string]any{"key": "p-100", "operator_id": "OP001", "checklist": allOK}
	rec := ts.do(t, http.MethodPost, "/api/pallet/cycles/out", scan, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[scanResponse](t, rec)
	assert.Equal(t, "OK", out.Status)
	assert.True(t, out.Cycle.IsOpen)
	assert.Equal(t, "OK", out.Asset.ProductionStatus)

	rec = ts.do(t, http.MethodPost, "/api/pallet/cycles/out", scan, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.KindAlreadyOut, decodeBody[errorResponse](t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/pallet/cycles/active/P-100", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	active := decodeBody[activeCycleResponse](t, rec)
	require.NotNil(t, active.Cycle)
	assert.Equal(t, "OP001", active.Cycle.OutOperator)

	rec = ts.do(t, http.MethodPost, "/api/pallet/cycles/in", map[string]any{
		"key":         "P-100",
		"operator_id": "OP002",
		"checklist":   map[string]string{"cleaned_ok": "OK", "dent_ok": "NG", "mesh_ok": "OK"},
	}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	in := decodeBody[scanResponse](t, rec)
	assert.Equal(t, "NG", in.Status)
	assert.False(t, in.Cycle.IsOpen)

	rec = ts.do(t, http.MethodPost, "/api/pallet/cycles/in", scan, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.KindNoOpenCycle, decodeBody[errorResponse](t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/pallet/cycles/active/P-100", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody[activeCycleResponse](t, rec).Cycle)

	rec = ts.do(t, http.MethodGet, "/api/pallet/cycles?pageSize=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[cycleListResponse](t, rec)
	require.Equal(t, 1, list.Size)
	assert.Equal(t, "OP002", list.Items[0].OperatorRef)
}

func TestCycleRejections(t *testing.T) {
	ts := newTestServer(t)
	auth := ts.login(t, "User1", "User1")
	ts.createPallet(t, auth, "P-100")

	rec := ts.do(t, http.MethodPost, "/api/pallet/cycles/out", map[string]any{"key": "P-100", "operator_id": "OP999", "checklist": allOK}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/pallet/cycles/out", map[string]any{"key": "P-100", "checklist": allOK}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/pallet/assets/1/actions", map[string]string{"action": "REWORK"}, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/pallet/cycles/out", map[string]any{"key": "P-100", "operator_id": "OP001", "checklist": allOK}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.KindBlocked, decodeBody[errorResponse](t, rec).Kind)
}

func TestHistoryPaging(t *testing.T) {
	ts := newTestServer(t)
	auth := ts.login(t, "User1", "User1")
	ts.createPallet(t, auth, "P-100")

	for _, loc := range []string{"A", "B", "C"} {
		rec := ts.do(t, http.MethodPatch, "/api/pallet/assets/1", map[string]any{"fields": map[string]string{"location": loc}}, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodGet, "/api/pallet/assets/1/history?column=location&pageSize=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[historyResponse](t, rec)
	require.Equal(t, 2, page.Size)
	assert.Equal(t, "C", page.Items[0].NewValue)
	require.NotEmpty(t, page.NextPageToken)

	rec = ts.do(t, http.MethodGet, "/api/pallet/assets/1/history?column=location&pageSize=2&pageToken="+page.NextPageToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodeBody[historyResponse](t, rec)
	require.Equal(t, 1, page.Size)
	assert.Equal(t, "RACK-1", page.Items[0].OldValue)
	assert.Empty(t, page.NextPageToken)

	rec = ts.do(t, http.MethodGet, "/api/pallet/assets/1/history?column=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperatorsAndCredentials(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/operators", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[operatorsResponse](t, rec).Operators, 3)

	rec = ts.do(t, http.MethodPost, "/api/operators/rename", map[string]string{
		"username": "OP-USER1", "operator_id": "OP001", "new_operator_id": "OP100",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/credentials", map[string]string{
		"username": "User2", "old_password": "User2", "new_password": "changed",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ts.login(t, "User2", "changed")

	rec = ts.do(t, http.MethodPost, "/api/credentials", map[string]string{
		"username": "User2", "old_password": "User2", "new_password": "again",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
