package service

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/database"
	"github.com/shopfloor/isos/pkg/history"
)

// UpdateResult is the outcome of an update or action.
type UpdateResult struct {
	Asset   *asset.Asset `json:"asset"`
	Changes int          `json:"changes"`
}

// Create adds a new asset. The condition status defaults to ACTIVE and cannot be
// one of the action statuses; actor is stamped as the last editor.
func (s *Service) Create(ctx context.Context, actor string, in asset.NewAsset) (*asset.Asset, error) {
	if in.ConditionStatus != "" {
		if err := s.gate.ValidateUpdate(string(asset.StatusActive), in.ConditionStatus); err != nil {
			return nil, err
		}
	}
	in.EmpID = actor

	var created *asset.Asset
	err := s.inTx(ctx, "create", func(sc *scope) error {
		a, err := sc.store.Create(s.desc, in)
		if err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("asset created", "id", created.ID, "key", created.AssetKey, "actor", actor)
	return created, nil
}

// Replace overwrites every descriptive field and the remarks of an asset. Status
// fields are only changed when present in values.
func (s *Service) Replace(ctx context.Context, actor string, id uint, values map[string]string) (*UpdateResult, error) {
	for name := range values {
		if !s.desc.IsPatchable(name) {
			return nil, apperr.Validation("unknown %s field %q", s.desc.Slug, name)
		}
	}
	return s.update(ctx, "replace", actor, id, asset.FullPatch(s.desc, values))
}

// Patch changes exactly the fields named in patch.
func (s *Service) Patch(ctx context.Context, actor string, id uint, patch asset.Patch) (*UpdateResult, error) {
	if len(patch) == 0 {
		return nil, apperr.Validation("patch names no fields")
	}
	return s.update(ctx, "patch", actor, id, patch)
}

func (s *Service) update(ctx context.Context, op, actor string, id uint, patch asset.Patch) (*UpdateResult, error) {
	var res UpdateResult
	err := s.inTx(ctx, op, func(sc *scope) error {
		current, err := sc.store.GetForUpdate(s.desc, id)
		if err != nil {
			return err
		}
		if v, ok := patch[asset.FieldConditionStatus]; ok {
			if err := s.gate.ValidateUpdate(current.ConditionStatus, v); err != nil {
				return err
			}
		}
		if v, ok := patch[s.desc.KeyField]; ok && asset.Normalize(v) != current.AssetKey {
			active, err := sc.tracker.Active(current.AssetKey)
			if err != nil {
				return err
			}
			if active != nil {
				return apperr.Validation("%s %s is OUT, scan IN before changing %s", s.desc.Slug, current.AssetKey, s.desc.KeyField)
			}
		}

		old, updated, err := sc.store.Replace(s.desc, id, patch, actor)
		if err != nil {
			return err
		}
		n, err := sc.record(s.desc, id, actor, old, updated)
		if err != nil {
			return err
		}
		res.Changes = n
		if n == 0 {
			res.Asset = current
			return nil
		}
		res.Asset, err = sc.store.Get(s.desc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Changes > 0 {
		s.logger.Info("asset updated", "id", id, "changes", res.Changes, "actor", actor)
	}
	return &res, nil
}

// ApplyAction sets the condition status to MOVE, REWORK or SCRAP. The production
// status is left untouched; the change is recorded in history.
func (s *Service) ApplyAction(ctx context.Context, actor string, id uint, action, remarks string) (*UpdateResult, error) {
	if _, err := s.gate.ParseAction(action); err != nil {
		return nil, err
	}

	var res UpdateResult
	err := s.inTx(ctx, "action", func(sc *scope) error {
		current, err := sc.store.GetForUpdate(s.desc, id)
		if err != nil {
			return err
		}
		status, err := s.gate.ApplyAction(current, action)
		if err != nil {
			return err
		}
		old, updated, err := sc.store.SetConditionStatus(s.desc, id, status, actor, remarks)
		if err != nil {
			return err
		}
		if res.Changes, err = sc.record(s.desc, id, actor, old, updated); err != nil {
			return err
		}
		res.Asset, err = sc.store.Get(s.desc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("asset action applied", "id", id, "action", res.Asset.ConditionStatus, "actor", actor)
	return &res, nil
}

// Delete removes an asset and its history. An asset that is OUT must be scanned
// IN first. It returns the number of history entries removed.
func (s *Service) Delete(ctx context.Context, actor string, id uint) (int64, error) {
	var removed int64
	err := s.inTx(ctx, "delete", func(sc *scope) error {
		current, err := sc.store.GetForUpdate(s.desc, id)
		if err != nil {
			return err
		}
		active, err := sc.tracker.Active(current.AssetKey)
		if err != nil {
			return err
		}
		if active != nil {
			return apperr.Validation("%s %s is OUT, scan IN before deleting", s.desc.Slug, current.AssetKey)
		}
		if removed, err = sc.recorder.DeleteForAsset(id); err != nil {
			return err
		}
		return sc.store.Delete(s.desc, id)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("asset deleted", "id", id, "history_removed", removed, "actor", actor)
	return removed, nil
}

// Get returns one asset.
func (s *Service) Get(ctx context.Context, id uint) (*asset.Asset, error) {
	var a *asset.Asset
	err := s.inRead(ctx, "get", func(sc *scope) (err error) {
		a, err = sc.store.Get(s.desc, id)
		return err
	})
	return a, err
}

// List returns the assets in the requested view.
func (s *Service) List(ctx context.Context, view asset.View) ([]asset.Asset, error) {
	var assets []asset.Asset
	err := s.inRead(ctx, "list", func(sc *scope) (err error) {
		assets, err = sc.store.List(s.desc, view)
		return err
	})
	return assets, err
}

func (s *Service) validateHistoryField(field string) error {
	if field == "" || field == history.AllFields || slices.Contains(s.desc.TrackedFields(), field) {
		return nil
	}
	return apperr.Validation("unknown %s history column %q", s.desc.Slug, field)
}

// QueryHistory returns the audit trail of an asset, newest first, optionally
// restricted to one field. Ranging the sequence again re-reads current state.
// Entries are fetched in batches, each bounded by the lock timeout.
func (s *Service) QueryHistory(ctx context.Context, id uint, field string) (iter.Seq2[history.Entry, error], error) {
	if err := s.validateHistoryField(field); err != nil {
		return nil, err
	}
	if err := s.inRead(ctx, "history", func(sc *scope) error {
		_, err := sc.store.Get(s.desc, id)
		return err
	}); err != nil {
		return nil, err
	}

	seq := s.recorder.WithTx(s.db.WithContext(ctx)).WithBatchTimeout(s.lockTimeout).Query(id, field)
	return func(yield func(history.Entry, error) bool) {
		for e, err := range seq {
			if err != nil {
				if ctx.Err() == nil && (database.IsContention(err) || errors.Is(err, context.DeadlineExceeded)) {
					err = apperr.Conflict(err, "%s history busy, retry later", s.desc.Slug)
				}
				yield(history.Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}, nil
}

// ListHistory returns one page of the audit trail of an asset.
func (s *Service) ListHistory(ctx context.Context, id uint, field string, pageSize int, pageToken string) ([]history.Entry, string, error) {
	if err := s.validateHistoryField(field); err != nil {
		return nil, "", err
	}
	var (
		entries []history.Entry
		next    string
	)
	err := s.inRead(ctx, "history", func(sc *scope) (err error) {
		if _, err = sc.store.Get(s.desc, id); err != nil {
			return err
		}
		entries, next, err = sc.recorder.List(id, field, pageSize, pageToken)
		return err
	})
	return entries, next, err
}
