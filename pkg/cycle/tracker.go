// Package cycle tracks ISOS OUT/IN cycles and their inspection outcomes.
package cycle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/database"
	"github.com/shopfloor/isos/pkg/gate"
)

// PassToken is the checklist answer that counts as a pass.
const PassToken = "OK"

// Evaluate computes the outcome of a checklist: OK iff every checklist item of the
// asset type is exactly the pass token, with no trimming or case folding.
// Measurements never influence the outcome.
func Evaluate(d *asset.Descriptor, checklist map[string]string) asset.Outcome {
	for _, item := range d.ChecklistItems {
		v, ok := checklist[item]
		if !ok || v != PassToken {
			return asset.OutcomeNG
		}
	}
	return asset.OutcomeOK
}

// Tracker owns the cycle rows of one asset type.
type Tracker struct {
	db   *gorm.DB
	desc *asset.Descriptor
	gate *gate.Gate
	now  func() time.Time
}

// NewTracker creates a tracker for the asset type d.
func NewTracker(db *gorm.DB, d *asset.Descriptor, g *gate.Gate) *Tracker {
	return &Tracker{db: db, desc: d, gate: g, now: time.Now}
}

// WithTx returns a tracker bound to tx.
func (t *Tracker) WithTx(tx *gorm.DB) *Tracker {
	return &Tracker{db: tx, desc: t.desc, gate: t.gate, now: t.now}
}

// AutoMigrate creates or updates the cycles table.
func (t *Tracker) AutoMigrate() error {
	if err := t.db.AutoMigrate(&Cycle{}); err != nil {
		return fmt.Errorf("auto-migrate isos_cycles: %w", err)
	}
	return nil
}

// Active returns the open cycle for key, or nil if the asset is idle.
func (t *Tracker) Active(key string) (*Cycle, error) {
	var c Cycle
	err := t.db.Where("asset_type = ? AND asset_key = ? AND is_open = ?", t.desc.Name, asset.Normalize(key), true).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active cycle: %w", err)
	}
	return &c, nil
}

func (t *Tracker) pick(values map[string]string, names []string) Answers {
	if len(names) == 0 {
		return nil
	}
	out := make(Answers, len(names))
	for _, n := range names {
		out[n] = strings.TrimSpace(values[n])
	}
	return out
}

// Checkout opens a cycle on a. The caller must have loaded a with a row lock in
// the same transaction; the open-cycle check and the insert then run atomically.
func (t *Tracker) Checkout(a *asset.Asset, operatorRef string, in Input) (*Cycle, error) {
	if a == nil {
		return nil, apperr.NotFound("%s not found", t.desc.Slug)
	}
	if !t.gate.CanStartCycle(a) {
		return nil, apperr.Blocked("%s cannot be used (condition_status: %s)", t.desc.Slug, a.ConditionStatus)
	}

	active, err := t.Active(a.AssetKey)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.AlreadyOut("%s %s already OUT, must scan IN first", t.desc.Slug, a.AssetKey)
	}

	key := a.AssetKey
	c := &Cycle{
		AssetType:    t.desc.Name,
		AssetKey:     key,
		OpenKey:      &key,
		IsOpen:       true,
		OutTime:      t.now(),
		Checklist:    t.pick(in.Checklist, t.desc.ChecklistItems),
		Measurements: t.pick(in.Measurements, t.desc.Measurements),
		Remarks:      asset.Normalize(in.Remarks),
		OutOperator:  operatorRef,
		OperatorRef:  operatorRef,
		Outcome:      string(Evaluate(t.desc, in.Checklist)),
	}
	if err := t.db.Create(c).Error; err != nil {
		if database.IsDuplicate(err) {
			return nil, apperr.AlreadyOut("%s %s already OUT, must scan IN first", t.desc.Slug, key)
		}
		return nil, fmt.Errorf("open cycle: %w", err)
	}
	return c, nil
}

// Checkin closes the open cycle on a with the answers given at IN time. Any
// registered operator may close a cycle, not only the one who opened it.
func (t *Tracker) Checkin(a *asset.Asset, operatorRef string, in Input) (*Cycle, error) {
	if a == nil {
		return nil, apperr.NotFound("%s not found", t.desc.Slug)
	}
	if !t.gate.CanCloseCycle(a) {
		return nil, apperr.Blocked("%s cannot be returned (condition_status: %s)", t.desc.Slug, a.ConditionStatus)
	}

	active, err := t.Active(a.AssetKey)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, apperr.NoOpenCycle("no active OUT cycle for %s %s", t.desc.Slug, a.AssetKey)
	}

	now := t.now()
	if now.Before(active.OutTime) {
		now = active.OutTime
	}
	updates := map[string]any{
		"in_time":      now,
		"checklist":    t.pick(in.Checklist, t.desc.ChecklistItems),
		"measurements": t.pick(in.Measurements, t.desc.Measurements),
		"operator_ref": operatorRef,
		"outcome":      string(Evaluate(t.desc, in.Checklist)),
		"is_open":      false,
		"open_key":     nil,
	}
	if remarks := asset.Normalize(in.Remarks); remarks != "" {
		updates["remarks"] = remarks
	}

	result := t.db.Model(&Cycle{}).Where("id = ? AND is_open = ?", active.ID, true).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("close cycle: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperr.NoOpenCycle("no active OUT cycle for %s %s", t.desc.Slug, a.AssetKey)
	}

	var closed Cycle
	if err := t.db.First(&closed, "id = ?", active.ID).Error; err != nil {
		return nil, fmt.Errorf("reload closed cycle: %w", err)
	}
	return &closed, nil
}

// CountOpen returns the number of open cycles for key. Used to verify the
// single-open-cycle invariant.
func (t *Tracker) CountOpen(key string) (int64, error) {
	var n int64
	err := t.db.Model(&Cycle{}).
		Where("asset_type = ? AND asset_key = ? AND is_open = ?", t.desc.Name, asset.Normalize(key), true).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count open cycles: %w", err)
	}
	return n, nil
}

// List returns cycles newest OUT first, joined with the descriptive fields of
// their assets. pageToken is the id of the last cycle of the previous page.
func (t *Tracker) List(pageSize int, pageToken string) ([]View, string, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}

	query := t.db.Where("asset_type = ?", t.desc.Name).Order("out_time DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		var cursor Cycle
		cursorID, err := strconv.ParseUint(pageToken, 10, 64)
		if err != nil {
			return nil, "", apperr.Validation("invalid page token %q", pageToken)
		}
		if err := t.db.Where("id = ? AND asset_type = ?", cursorID, t.desc.Name).First(&cursor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", apperr.Validation("invalid page token %q", pageToken)
			}
			return nil, "", fmt.Errorf("load page token: %w", err)
		}
		query = query.Where("(out_time < ? OR (out_time = ? AND id < ?))", cursor.OutTime, cursor.OutTime, cursor.ID)
	}

	var cycles []Cycle
	if err := query.Find(&cycles).Error; err != nil {
		return nil, "", fmt.Errorf("list cycles: %w", err)
	}

	var nextToken string
	if len(cycles) > pageSize {
		nextToken = fmt.Sprintf("%d", cycles[pageSize-1].ID)
		cycles = cycles[:pageSize]
	}

	keys := make([]string, 0, len(cycles))
	for _, c := range cycles {
		keys = append(keys, c.AssetKey)
	}
	fieldsByKey := make(map[string]asset.FieldValues, len(keys))
	if len(keys) > 0 {
		var assets []asset.Asset
		if err := t.db.Where("asset_type = ? AND asset_key IN ?", t.desc.Name, keys).Find(&assets).Error; err != nil {
			return nil, "", fmt.Errorf("load cycle assets: %w", err)
		}
		for _, a := range assets {
			fieldsByKey[a.AssetKey] = a.Fields
		}
	}

	views := make([]View, len(cycles))
	for i, c := range cycles {
		views[i] = View{Cycle: c, AssetFields: t.listFields(fieldsByKey[c.AssetKey])}
	}
	return views, nextToken, nil
}

func (t *Tracker) listFields(fields asset.FieldValues) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(t.desc.ListFields))
	for _, f := range t.desc.ListFields {
		out[f] = fields[f]
	}
	return out
}
