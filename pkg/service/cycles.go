package service

import (
	"context"
	"strings"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/cycle"
	"github.com/shopfloor/isos/pkg/metrics"
)

// CycleResult is the outcome of an OUT or IN scan.
type CycleResult struct {
	Cycle *cycle.Cycle `json:"cycle"`
	Asset *asset.Asset `json:"asset"`
}

// ActiveCycle is an asset together with its open cycle, if any.
type ActiveCycle struct {
	Asset *asset.Asset `json:"asset"`
	Cycle *cycle.Cycle `json:"activeCycle"`
}

type cycleStep func(t *cycle.Tracker, a *asset.Asset, operatorRef string, in cycle.Input) (*cycle.Cycle, error)

// Checkout opens an ISOS cycle (OUT) on the asset identified by key and records the
// checklist outcome as the asset's production status.
func (s *Service) Checkout(ctx context.Context, actor, key, operatorRef string, in cycle.Input) (*CycleResult, error) {
	return s.transition(ctx, "checkout", "out", actor, key, operatorRef, in, (*cycle.Tracker).Checkout)
}

// Checkin closes the open ISOS cycle (IN) of the asset identified by key, re-evaluating
// the checklist supplied at IN time.
func (s *Service) Checkin(ctx context.Context, actor, key, operatorRef string, in cycle.Input) (*CycleResult, error) {
	return s.transition(ctx, "checkin", "in", actor, key, operatorRef, in, (*cycle.Tracker).Checkin)
}

func (s *Service) transition(ctx context.Context, op, direction, actor, key, operatorRef string, in cycle.Input, step cycleStep) (*CycleResult, error) {
	key = asset.Normalize(key)
	operatorRef = strings.TrimSpace(operatorRef)
	if key == "" || operatorRef == "" {
		return nil, apperr.Validation("%s and operator id required", s.desc.KeyField)
	}
	if actor == "" {
		actor = operatorRef
	}

	var res CycleResult
	err := s.inTx(ctx, op, func(sc *scope) error {
		ok, err := sc.operators.Exists(operatorRef)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Unauthorized("invalid operator id %s", operatorRef)
		}

		a, err := sc.store.GetByKeyForUpdate(s.desc, key)
		if err != nil {
			return err
		}
		c, err := step(sc.tracker, a, operatorRef, in)
		if err != nil {
			return err
		}

		old, updated, err := sc.store.SetProductionStatus(s.desc, key, asset.Outcome(c.Outcome))
		if err != nil {
			return err
		}
		if _, err := sc.record(s.desc, a.ID, actor, old, updated); err != nil {
			return err
		}

		res.Cycle = c
		res.Asset, err = sc.store.Get(s.desc, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveCycle(s.desc.Name, direction, res.Cycle.Outcome)
	s.logger.Info("isos cycle transition",
		"direction", direction,
		"key", key,
		"operator", operatorRef,
		"outcome", res.Cycle.Outcome,
	)
	return &res, nil
}

// LookupActiveCycle returns the asset identified by key and its open cycle. The
// cycle is nil when the asset is not OUT.
func (s *Service) LookupActiveCycle(ctx context.Context, key string) (*ActiveCycle, error) {
	var res ActiveCycle
	err := s.inRead(ctx, "lookup", func(sc *scope) (err error) {
		if res.Asset, err = sc.store.GetByKey(s.desc, key); err != nil {
			return err
		}
		res.Cycle, err = sc.tracker.Active(res.Asset.AssetKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListCycles returns one page of cycles, newest OUT first, joined with asset fields.
func (s *Service) ListCycles(ctx context.Context, pageSize int, pageToken string) ([]cycle.View, string, error) {
	var (
		views []cycle.View
		next  string
	)
	err := s.inRead(ctx, "cycles", func(sc *scope) (err error) {
		views, next, err = sc.tracker.List(pageSize, pageToken)
		return err
	})
	return views, next, err
}

// CountOpenCycles returns the number of open cycles for key.
func (s *Service) CountOpenCycles(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.inRead(ctx, "count_open", func(sc *scope) (err error) {
		n, err = sc.tracker.CountOpen(key)
		return err
	})
	return n, err
}
