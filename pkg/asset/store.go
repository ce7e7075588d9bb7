// Package asset owns persisted pallet and stencil records.
package asset

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/database"
)

// View selects one of the listing projections.
type View string

const (
	// ViewActive lists non-scrapped assets, most recently updated first.
	ViewActive View = "list"
	// ViewReceived lists every asset, most recently updated first.
	ViewReceived View = "received"
	// ViewStatus lists non-scrapped assets by revalidation date, earliest first.
	ViewStatus View = "status"
)

// Store provides persistence for assets. All methods run against the handle the
// store was created with, so a store bound with WithTx joins the caller's transaction.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithTx returns a store bound to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, now: s.now}
}

// AutoMigrate creates or updates the assets table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Asset{}); err != nil {
		return fmt.Errorf("auto-migrate assets: %w", err)
	}
	return nil
}

// Get retrieves an asset by id.
func (s *Store) Get(d *Descriptor, id uint) (*Asset, error) {
	return s.first(s.db, d, "id = ?", id)
}

// GetForUpdate retrieves an asset by id and locks its row until the transaction ends.
func (s *Store) GetForUpdate(d *Descriptor, id uint) (*Asset, error) {
	return s.first(s.locking(), d, "id = ?", id)
}

// GetByKey retrieves an asset by its business key.
func (s *Store) GetByKey(d *Descriptor, key string) (*Asset, error) {
	return s.first(s.db, d, "asset_key = ?", Normalize(key))
}

// GetByKeyForUpdate retrieves an asset by business key and locks its row.
func (s *Store) GetByKeyForUpdate(d *Descriptor, key string) (*Asset, error) {
	return s.first(s.locking(), d, "asset_key = ?", Normalize(key))
}

func (s *Store) locking() *gorm.DB {
	// SQLite dialects drop the FOR UPDATE clause; there the single-writer pool serializes.
	return s.db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func (s *Store) first(db *gorm.DB, d *Descriptor, query string, arg any) (*Asset, error) {
	var a Asset
	err := db.Where("asset_type = ?", d.Name).Where(query, arg).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("%s not found: %v", d.Slug, arg)
		}
		return nil, fmt.Errorf("get %s: %w", d.Slug, err)
	}
	if a.Fields == nil {
		a.Fields = FieldValues{}
	}
	return &a, nil
}

// Create inserts a new asset. Text values are normalized; the condition status
// defaults to ACTIVE.
func (s *Store) Create(d *Descriptor, in NewAsset) (*Asset, error) {
	for name := range in.Fields {
		if !d.IsField(name) {
			return nil, apperr.Validation("unknown %s field %q", d.Slug, name)
		}
	}
	fields := NormalizeFields(d, in.Fields)
	key := fields[d.KeyField]
	if key == "" {
		return nil, apperr.Validation("%s is required", d.KeyField)
	}

	status := Normalize(in.ConditionStatus)
	if status == "" {
		status = string(StatusActive)
	}

	now := s.now()
	a := &Asset{
		AssetType:        d.Name,
		AssetKey:         key,
		Fields:           fields,
		ConditionStatus:  status,
		ProductionStatus: Normalize(in.ProductionStatus),
		EmpID:            in.EmpID,
		Remarks:          Normalize(in.Remarks),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.Create(a).Error; err != nil {
		if database.IsDuplicate(err) {
			return nil, apperr.Validation("%s %s already exists", d.Slug, key)
		}
		return nil, fmt.Errorf("create %s: %w", d.Slug, err)
	}
	return a, nil
}

// Replace applies patch to the asset and returns the snapshots before and after.
// When the normalized values equal the stored ones nothing is written and
// updated_at is left alone. actor is stamped into emp_id only when something changed.
func (s *Store) Replace(d *Descriptor, id uint, patch Patch, actor string) (Snapshot, Snapshot, error) {
	for name := range patch {
		if !d.IsPatchable(name) {
			return nil, nil, apperr.Validation("unknown %s field %q", d.Slug, name)
		}
	}

	current, err := s.GetForUpdate(d, id)
	if err != nil {
		return nil, nil, err
	}
	old := current.Snapshot(d)

	next := *current
	next.Fields = make(FieldValues, len(d.Fields))
	for _, f := range d.Fields {
		next.Fields[f] = current.Fields[f]
	}
	for name, value := range patch {
		v := Normalize(value)
		switch name {
		case FieldConditionStatus:
			if v == "" {
				return nil, nil, apperr.Validation("%s cannot be empty", FieldConditionStatus)
			}
			next.ConditionStatus = v
		case FieldProductionStatus:
			next.ProductionStatus = v
		case FieldRemarks:
			next.Remarks = v
		default:
			next.Fields[name] = v
		}
	}
	next.AssetKey = next.Fields[d.KeyField]
	if next.AssetKey == "" {
		return nil, nil, apperr.Validation("%s is required", d.KeyField)
	}

	if old.Equal(next.Snapshot(d), d.TrackedFields()) {
		return old, old, nil
	}
	next.EmpID = actor

	if err := s.save(d, current, &next); err != nil {
		return nil, nil, err
	}
	return old, next.Snapshot(d), nil
}

// SetConditionStatus sets the condition status together with the acting employee
// and remarks. The production status is not touched.
func (s *Store) SetConditionStatus(d *Descriptor, id uint, status ConditionStatus, actor, remarks string) (Snapshot, Snapshot, error) {
	current, err := s.GetForUpdate(d, id)
	if err != nil {
		return nil, nil, err
	}
	next := *current
	next.ConditionStatus = Normalize(string(status))
	next.EmpID = actor
	next.Remarks = Normalize(remarks)
	return s.apply(d, current, &next)
}

// SetProductionStatus records a cycle outcome on the asset identified by its business key.
func (s *Store) SetProductionStatus(d *Descriptor, key string, status Outcome) (Snapshot, Snapshot, error) {
	current, err := s.GetByKeyForUpdate(d, key)
	if err != nil {
		return nil, nil, err
	}
	next := *current
	next.ProductionStatus = Normalize(string(status))
	return s.apply(d, current, &next)
}

func (s *Store) apply(d *Descriptor, current, next *Asset) (Snapshot, Snapshot, error) {
	old := current.Snapshot(d)
	updated := next.Snapshot(d)
	if old.Equal(updated, d.TrackedFields()) {
		return old, old, nil
	}
	if err := s.save(d, current, next); err != nil {
		return nil, nil, err
	}
	return old, updated, nil
}

func (s *Store) save(d *Descriptor, current, next *Asset) error {
	now := s.now()
	if now.Before(current.UpdatedAt) {
		now = current.UpdatedAt
	}
	result := s.db.Model(&Asset{}).Where("id = ?", current.ID).Updates(map[string]any{
		"asset_key":         next.AssetKey,
		"fields":            next.Fields,
		"condition_status":  next.ConditionStatus,
		"production_status": next.ProductionStatus,
		"emp_id":            next.EmpID,
		"remarks":           next.Remarks,
		"updated_at":        now,
	})
	if result.Error != nil {
		if database.IsDuplicate(result.Error) {
			return apperr.Validation("%s %s already exists", d.Slug, next.AssetKey)
		}
		return fmt.Errorf("update %s: %w", d.Slug, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("%s not found: %d", d.Slug, current.ID)
	}
	next.UpdatedAt = now
	return nil
}

// Delete removes an asset. History rows are removed by the caller in the same transaction.
func (s *Store) Delete(d *Descriptor, id uint) error {
	result := s.db.Where("asset_type = ? AND id = ?", d.Name, id).Delete(&Asset{})
	if result.Error != nil {
		return fmt.Errorf("delete %s: %w", d.Slug, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("%s not found: %d", d.Slug, id)
	}
	return nil
}

// List returns the assets of one type in the requested view.
func (s *Store) List(d *Descriptor, view View) ([]Asset, error) {
	query := s.db.Where("asset_type = ?", d.Name)
	switch view {
	case ViewActive, ViewStatus:
		query = query.Where("condition_status <> ?", string(StatusScrap))
	case ViewReceived:
	default:
		return nil, apperr.Validation("unknown view %q", view)
	}

	var records []Asset
	if err := query.Order("updated_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", d.Slug, err)
	}

	if view == ViewStatus && d.RevalidationField != "" {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Fields[d.RevalidationField] < records[j].Fields[d.RevalidationField]
		})
	}
	return records, nil
}
