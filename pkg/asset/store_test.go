package asset

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopfloor/isos/pkg/apperr"
)

// newTestStore creates an in-memory SQLite store with the assets table migrated.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

// fixedClock returns a clock that advances by one minute per call.
func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func createPallet(t *testing.T, s *Store, key string, extra map[string]string) *Asset {
	t.Helper()
	fields := map[string]string{"pallet_no": key, "customer": "acme", "location": "RACK-1"}
	for k, v := range extra {
		fields[k] = v
	}
	a, err := s.Create(PalletDescriptor(), NewAsset{Fields: fields, EmpID: "EMP001"})
	require.NoError(t, err)
	return a
}

func TestStore_CreateNormalizes(t *testing.T) {
	s := newTestStore(t)
	d := PalletDescriptor()

	a, err := s.Create(d, NewAsset{
		Fields:  map[string]string{"pallet_no": " p-100 ", "customer": "Acme Corp"},
		Remarks: " new ",
	})
	require.NoError(t, err)

	assert.Equal(t, "P-100", a.AssetKey)
	assert.Equal(t, "ACME CORP", a.Fields["customer"])
	assert.Equal(t, "", a.Fields["rack_no"], "every declared field is present")
	assert.Equal(t, string(StatusActive), a.ConditionStatus)
	assert.Equal(t, "NEW", a.Remarks)

	got, err := s.GetByKey(d, "p-100")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "ACME CORP", got.Fields["customer"])
}

func TestStore_CreateRejects(t *testing.T) {
	s := newTestStore(t)
	d := PalletDescriptor()

	_, err := s.Create(d, NewAsset{Fields: map[string]string{"customer": "acme"}})
	assert.Equal(t, apperr.KindValidationError, apperr.KindOf(err), "key field required")

	_, err = s.Create(d, NewAsset{Fields: map[string]string{"pallet_no": "P-1", "stencil_mils": "4"}})
	assert.Equal(t, apperr.KindValidationError, apperr.KindOf(err), "unknown field")

	createPallet(t, s, "P-1", nil)
	_, err = s.Create(d, NewAsset{Fields: map[string]string{"pallet_no": "p-1"}})
	assert.Equal(t, apperr.KindValidationError, apperr.KindOf(err), "duplicate key")

	// The same key is allowed for another asset type.
	_, err = s.Create(StencilDescriptor(), NewAsset{Fields: map[string]string{"stencil_no": "P-1"}})
	assert.NoError(t, err)
}

func TestStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)
	a := createPallet(t, s, "P-1", nil)

	_, err := s.Get(PalletDescriptor(), a.ID+1)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// An id of another type is not visible.
	_, err = s.Get(StencilDescriptor(), a.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStore_ReplaceNormalizedNoOp(t *testing.T) {
	s := newTestStore(t)
	s.now = fixedClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	d := PalletDescriptor()
	a := createPallet(t, s, "P-1", nil)

	old, updated, err := s.Replace(d, a.ID, Patch{"location": "rack-1 "}, "EMP002")
	require.NoError(t, err)
	assert.Equal(t, old, updated)

	got, err := s.Get(d, a.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(a.UpdatedAt), "updated_at must not move on a no-op")
	assert.Equal(t, "EMP001", got.EmpID, "emp_id is only stamped on a real change")
}

func TestStore_ReplaceChanges(t *testing.T) {
	s := newTestStore(t)
	s.now = fixedClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	d := PalletDescriptor()
	a := createPallet(t, s, "P-1", nil)

	old, updated, err := s.Replace(d, a.ID, Patch{"location": "rack-2", FieldRemarks: "moved"}, "emp002")
	require.NoError(t, err)
	assert.Equal(t, "RACK-1", old["location"])
	assert.Equal(t, "RACK-2", updated["location"])
	assert.Equal(t, "MOVED", updated[FieldRemarks])
	assert.Equal(t, "emp002", updated[FieldEmpID], "the actor is stored verbatim")

	got, err := s.Get(d, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "RACK-2", got.Fields["location"])
	assert.Equal(t, "ACME", got.Fields["customer"], "unpatched fields are kept")
	assert.True(t, got.UpdatedAt.After(a.UpdatedAt))
}

func TestStore_ReplaceValidation(t *testing.T) {
	s := newTestStore(t)
	d := PalletDescriptor()
	a := createPallet(t, s, "P-1", nil)

	_, _, err := s.Replace(d, a.ID, Patch{"bogus": "x"}, "EMP")
	assert.Equal(t, apperr.KindValidationError, apperr.KindOf(err))

	_, _, err = s.Replace(d, a.ID, Patch{"pallet_no": "  "}, "EMP")
	assert.Equal(t, apperr.KindValidationError, apperr.KindOf(err))

	_, _, err = s.Replace(d, a.ID, Patch{FieldConditionStatus: ""}, "EMP")
	assert.Equal(t, apperr.KindValidationError, apperr.KindOf(err))

	createPallet(t, s, "P-2", nil)
	_, _, err = s.Replace(d, a.ID, Patch{"pallet_no": "p-2"}, "EMP")
	assert.Equal(t, apperr.KindValidationError, apperr.KindOf(err), "renaming onto an existing key")

	_, _, err = s.Replace(d, a.ID+100, Patch{"location": "x"}, "EMP")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStore_SetConditionStatusKeepsProductionStatus(t *testing.T) {
	s := newTestStore(t)
	d := PalletDescriptor()
	a, err := s.Create(d, NewAsset{Fields: map[string]string{"pallet_no": "P-1"}, ProductionStatus: "OK"})
	require.NoError(t, err)

	old, updated, err := s.SetConditionStatus(d, a.ID, StatusScrap, "emp9", "damaged")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", old[FieldConditionStatus])
	assert.Equal(t, "SCRAP", updated[FieldConditionStatus])
	assert.Equal(t, "OK", updated[FieldProductionStatus])
	assert.Equal(t, "DAMAGED", updated[FieldRemarks])
	assert.Equal(t, "emp9", updated[FieldEmpID])
}

func TestStore_SetProductionStatus(t *testing.T) {
	s := newTestStore(t)
	d := PalletDescriptor()
	createPallet(t, s, "P-1", nil)

	old, updated, err := s.SetProductionStatus(d, "p-1", OutcomeNG)
	require.NoError(t, err)
	assert.Equal(t, "", old[FieldProductionStatus])
	assert.Equal(t, "NG", updated[FieldProductionStatus])

	// Setting the same outcome again is a no-op.
	old, updated, err = s.SetProductionStatus(d, "P-1", OutcomeNG)
	require.NoError(t, err)
	assert.Equal(t, old, updated)

	_, _, err = s.SetProductionStatus(d, "P-404", OutcomeOK)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	s.now = fixedClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	d := PalletDescriptor()

	createPallet(t, s, "P-1", map[string]string{"pallet_revalidation_dt": "2024-09-01"})
	p2 := createPallet(t, s, "P-2", map[string]string{"pallet_revalidation_dt": "2024-06-01"})
	createPallet(t, s, "P-3", map[string]string{"pallet_revalidation_dt": "2024-07-01"})
	_, _, err := s.SetConditionStatus(d, p2.ID, StatusScrap, "EMP", "")
	require.NoError(t, err)

	keys := func(items []Asset) []string {
		out := make([]string, len(items))
		for i, a := range items {
			out[i] = a.AssetKey
		}
		return out
	}

	active, err := s.List(d, ViewActive)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-3", "P-1"}, keys(active))

	received, err := s.List(d, ViewReceived)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-2", "P-3", "P-1"}, keys(received))

	status, err := s.List(d, ViewStatus)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-3", "P-1"}, keys(status))

	_, err = s.List(d, View("bogus"))
	assert.Equal(t, apperr.KindValidationError, apperr.KindOf(err))
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	d := PalletDescriptor()
	a := createPallet(t, s, "P-1", nil)

	require.NoError(t, s.Delete(d, a.ID))
	_, err := s.Get(d, a.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(s.Delete(d, a.ID)))
}
