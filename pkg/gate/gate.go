// Package gate decides whether an asset's condition status permits a cycle
// transition or a maintenance action. It holds no state beyond its policy tables.
package gate

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/asset"
)

// Actions are the maintenance actions that set a condition status explicitly.
var Actions = []asset.ConditionStatus{asset.StatusMove, asset.StatusRework, asset.StatusScrap}

// Gate evaluates condition statuses for one asset type.
type Gate struct {
	blocking mapset.Set[string]
	allowed  mapset.Set[string]
	actions  mapset.Set[string]
}

// New builds the gate for an asset type. The blocking set is MOVE, REWORK, SCRAP
// plus the descriptor's display-level blocking labels.
func New(d *asset.Descriptor) *Gate {
	actions := mapset.NewThreadUnsafeSet[string]()
	for _, a := range Actions {
		actions.Add(string(a))
	}

	blocking := actions.Clone()
	for _, label := range d.BlockingLabels {
		blocking.Add(normalize(label))
	}

	allowed := blocking.Clone()
	allowed.Add(string(asset.StatusActive))

	return &Gate{blocking: blocking, allowed: allowed, actions: actions}
}

func normalize(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

// IsBlocked reports whether status, case-normalized, is in the blocking set.
func (g *Gate) IsBlocked(status string) bool {
	return g.blocking.Contains(normalize(status))
}

// CanStartCycle reports whether an OUT may be started on a.
func (g *Gate) CanStartCycle(a *asset.Asset) bool {
	return !g.IsBlocked(a.ConditionStatus)
}

// CanCloseCycle reports whether an IN may close the open cycle of a. The status is
// re-read at IN time, so an asset scrapped mid-cycle cannot be checked in.
func (g *Gate) CanCloseCycle(a *asset.Asset) bool {
	return !g.IsBlocked(a.ConditionStatus)
}

// ValidateConditionStatus rejects values outside the closed condition status set.
func (g *Gate) ValidateConditionStatus(status string) error {
	if !g.allowed.Contains(normalize(status)) {
		return apperr.Validation("unknown condition status %q", status)
	}
	return nil
}

// ValidateUpdate checks a condition status change requested through a plain update.
// Action statuses can only be entered through ApplyAction; keeping an unchanged
// value is always allowed.
func (g *Gate) ValidateUpdate(from, to string) error {
	if normalize(from) == normalize(to) {
		return nil
	}
	if err := g.ValidateConditionStatus(to); err != nil {
		return err
	}
	if g.actions.Contains(normalize(to)) {
		return apperr.Validation("condition status %s can only be set through the %s action", normalize(to), normalize(to))
	}
	return nil
}

// ParseAction validates an action token.
func (g *Gate) ParseAction(action string) (asset.ConditionStatus, error) {
	a := normalize(action)
	if !g.actions.Contains(a) {
		return "", apperr.InvalidAction("invalid action %q (expected MOVE, REWORK or SCRAP)", action)
	}
	return asset.ConditionStatus(a), nil
}

// ApplyAction returns the condition status a takes after action. The production
// status is never affected by actions.
func (g *Gate) ApplyAction(a *asset.Asset, action string) (asset.ConditionStatus, error) {
	status, err := g.ParseAction(action)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", apperr.NotFound("asset not found")
	}
	return status, nil
}

// BlockingStatuses returns the blocking set, for display.
func (g *Gate) BlockingStatuses() []string {
	return mapset.Sorted(g.blocking)
}
