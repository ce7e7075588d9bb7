// Package history keeps the append-only, per-field audit trail of asset changes.
package history

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shopfloor/isos/pkg/apperr"
)

// Entry is an immutable record of a single field's value change.
type Entry struct {
	ID        uint      `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	AssetID   uint      `gorm:"column:asset_id;index:idx_history_asset_time,priority:1;index:idx_history_asset_field,priority:1;not null" json:"assetId"`
	FieldName string    `gorm:"column:field_name;index:idx_history_asset_field,priority:2;not null" json:"fieldName"`
	OldValue  string    `gorm:"column:old_value" json:"oldValue"`
	NewValue  string    `gorm:"column:new_value" json:"newValue"`
	Actor     string    `gorm:"column:actor" json:"actor,omitempty"`
	ChangedAt time.Time `gorm:"column:changed_at;index:idx_history_asset_time,priority:2;not null" json:"changedAt"`
}

// TableName returns the GORM table name.
func (Entry) TableName() string { return "asset_history" }

// AllFields is the query filter that matches every field.
const AllFields = "all"

// DefaultBatchSize is the number of entries Query fetches per round trip.
const DefaultBatchSize = 100

// Recorder computes field diffs and appends history entries.
type Recorder struct {
	db           *gorm.DB
	now          func() time.Time
	batchSize    int
	batchTimeout time.Duration
}

// NewRecorder creates a new Recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, now: time.Now, batchSize: DefaultBatchSize}
}

// WithTx returns a recorder bound to tx.
func (r *Recorder) WithTx(tx *gorm.DB) *Recorder {
	c := *r
	c.db = tx
	return &c
}

// WithBatchTimeout returns a recorder whose Query bounds each batch by d.
func (r *Recorder) WithBatchTimeout(d time.Duration) *Recorder {
	c := *r
	c.batchTimeout = d
	return &c
}

// AutoMigrate creates or updates the history table.
func (r *Recorder) AutoMigrate() error {
	if err := r.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("auto-migrate asset_history: %w", err)
	}
	return nil
}

// Diff returns one entry per field in fields whose trimmed values differ between
// oldSnap and newSnap. Entries are not persisted.
func Diff(assetID uint, fields []string, oldSnap, newSnap map[string]string) []Entry {
	var changes []Entry
	for _, f := range fields {
		oldVal := strings.TrimSpace(oldSnap[f])
		newVal := strings.TrimSpace(newSnap[f])
		if oldVal != newVal {
			changes = append(changes, Entry{
				AssetID:   assetID,
				FieldName: f,
				OldValue:  oldVal,
				NewValue:  newVal,
			})
		}
	}
	return changes
}

// Record appends one entry per changed field and returns the number appended.
// Nothing is written when no field changed.
func (r *Recorder) Record(assetID uint, actor string, fields []string, oldSnap, newSnap map[string]string) (int, error) {
	changes := Diff(assetID, fields, oldSnap, newSnap)
	if len(changes) == 0 {
		return 0, nil
	}
	now := r.now()
	for i := range changes {
		changes[i].Actor = actor
		changes[i].ChangedAt = now
	}
	if err := r.db.Create(&changes).Error; err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	return len(changes), nil
}

func newestFirst(db *gorm.DB, assetID uint, field string) *gorm.DB {
	q := db.Model(&Entry{}).Where("asset_id = ?", assetID)
	if field != "" && field != AllFields {
		q = q.Where("field_name = ?", field)
	}
	return q.Order("changed_at DESC").Order("id DESC")
}

// Query returns the entries of an asset, newest first, optionally restricted to one
// field. The sequence is lazy: entries are fetched in batches while ranging, no
// connection is held between batches, and every range re-reads current state.
func (r *Recorder) Query(assetID uint, field string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var after *Entry
		for {
			batch, err := r.nextBatch(assetID, field, after)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
			if len(batch) < r.batchSize {
				return
			}
			after = &batch[len(batch)-1]
		}
	}
}

func (r *Recorder) nextBatch(assetID uint, field string, after *Entry) ([]Entry, error) {
	db := r.db
	if r.batchTimeout > 0 {
		ctx, cancel := context.WithTimeout(r.db.Statement.Context, r.batchTimeout)
		defer cancel()
		db = db.WithContext(ctx)
	}

	q := newestFirst(db, assetID, field).Limit(r.batchSize)
	if after != nil {
		q = q.Where("(changed_at < ? OR (changed_at = ? AND id < ?))", after.ChangedAt, after.ChangedAt, after.ID)
	}
	var batch []Entry
	if err := q.Find(&batch).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return batch, nil
}

// List returns a page of entries, newest first. pageToken is the id of the last
// entry of the previous page; pass "" for the first page.
func (r *Recorder) List(assetID uint, field string, pageSize int, pageToken string) ([]Entry, string, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}

	query := newestFirst(r.db, assetID, field).Limit(pageSize + 1)
	if pageToken != "" {
		var cursor Entry
		cursorID, err := strconv.ParseUint(pageToken, 10, 64)
		if err != nil {
			return nil, "", apperr.Validation("invalid page token %q", pageToken)
		}
		if err := r.db.Where("id = ? AND asset_id = ?", cursorID, assetID).First(&cursor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", apperr.Validation("invalid page token %q", pageToken)
			}
			return nil, "", fmt.Errorf("load page token: %w", err)
		}
		query = query.Where("(changed_at < ? OR (changed_at = ? AND id < ?))", cursor.ChangedAt, cursor.ChangedAt, cursor.ID)
	}

	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, "", fmt.Errorf("list history: %w", err)
	}

	var nextToken string
	if len(entries) > pageSize {
		nextToken = fmt.Sprintf("%d", entries[pageSize-1].ID)
		entries = entries[:pageSize]
	}
	return entries, nextToken, nil
}

// DeleteForAsset removes all entries of an asset. Only used when the asset itself is deleted.
func (r *Recorder) DeleteForAsset(assetID uint) (int64, error) {
	result := r.db.Where("asset_id = ?", assetID).Delete(&Entry{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete history: %w", result.Error)
	}
	return result.RowsAffected, nil
}
