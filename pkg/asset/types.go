package asset

import (
	"fmt"
	"slices"
	"strings"
)

// ConditionStatus is the coarse lifecycle state of an asset.
type ConditionStatus string

const (
	StatusActive ConditionStatus = "ACTIVE"
	StatusMove   ConditionStatus = "MOVE"
	StatusRework ConditionStatus = "REWORK"
	StatusScrap  ConditionStatus = "SCRAP"
)

// Outcome is the result of an ISOS inspection checklist.
type Outcome string

const (
	OutcomeOK Outcome = "OK"
	OutcomeNG Outcome = "NG"
)

// Column names shared by every asset type besides the descriptive fields.
const (
	FieldConditionStatus  = "condition_status"
	FieldProductionStatus = "production_status"
	FieldEmpID            = "emp_id"
	FieldRemarks          = "remarks"
)

// Descriptor describes one asset type: its descriptive fields, its business key,
// and the checklist used by its ISOS cycles.
type Descriptor struct {
	// Name is the stored asset_type value, e.g. PALLET.
	Name string `yaml:"name" json:"name"`
	// Slug is the URL segment, e.g. pallet.
	Slug string `yaml:"slug" json:"slug"`
	// KeyField is the descriptive field holding the business identifier.
	KeyField string `yaml:"keyField" json:"keyField"`
	// Fields lists the descriptive fields in display order.
	Fields []string `yaml:"fields" json:"fields"`
	// ListFields is the short field set returned by list views.
	ListFields []string `yaml:"listFields" json:"listFields"`
	// RevalidationField orders the status view.
	RevalidationField string `yaml:"revalidationField" json:"revalidationField"`
	// ChecklistItems are the pass/fail items conjoined into a cycle outcome.
	ChecklistItems []string `yaml:"checklistItems" json:"checklistItems"`
	// Measurements are auxiliary values stored on a cycle. They do not affect the outcome.
	Measurements []string `yaml:"measurements" json:"measurements"`
	// BlockingLabels are display-level condition statuses that also block cycles.
	BlockingLabels []string `yaml:"blockingLabels" json:"blockingLabels"`
}

// TrackedFields returns every column the history recorder compares, in a stable order.
func (d *Descriptor) TrackedFields() []string {
	out := make([]string, 0, len(d.Fields)+4)
	out = append(out, d.Fields...)
	return append(out, FieldConditionStatus, FieldProductionStatus, FieldEmpID, FieldRemarks)
}

// IsField reports whether name is one of the descriptive fields.
func (d *Descriptor) IsField(name string) bool {
	return slices.Contains(d.Fields, name)
}

// IsPatchable reports whether name may appear in a Patch.
func (d *Descriptor) IsPatchable(name string) bool {
	switch name {
	case FieldConditionStatus, FieldProductionStatus, FieldRemarks:
		return true
	}
	return d.IsField(name)
}

// Validate checks the descriptor for internal consistency.
func (d *Descriptor) Validate() error {
	if d.Name == "" || d.Slug == "" {
		return fmt.Errorf("asset type requires name and slug")
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("asset type %s has no fields", d.Name)
	}
	if !d.IsField(d.KeyField) {
		return fmt.Errorf("asset type %s: key field %q is not a declared field", d.Name, d.KeyField)
	}
	for _, f := range d.ListFields {
		if !d.IsField(f) {
			return fmt.Errorf("asset type %s: list field %q is not a declared field", d.Name, f)
		}
	}
	if d.RevalidationField != "" && !d.IsField(d.RevalidationField) {
		return fmt.Errorf("asset type %s: revalidation field %q is not a declared field", d.Name, d.RevalidationField)
	}
	if len(d.ChecklistItems) == 0 {
		return fmt.Errorf("asset type %s has no checklist items", d.Name)
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if seen[f] {
			return fmt.Errorf("asset type %s: duplicate field %q", d.Name, f)
		}
		seen[f] = true
	}
	return nil
}

// PalletDescriptor returns the built-in pallet asset type.
func PalletDescriptor() *Descriptor {
	return &Descriptor{
		Name:     "PALLET",
		Slug:     "pallet",
		KeyField: "pallet_no",
		Fields: []string{
			"fg", "customer", "pallet_no", "pallet_qty", "rack_no", "location",
			"pallet_supplier", "pallet_pr_no", "date_received",
			"pallet_validation_dt", "pallet_revalidation_dt", "received_by",
		},
		ListFields:        []string{"fg", "customer", "pallet_no", "pallet_qty", "rack_no", "location"},
		RevalidationField: "pallet_revalidation_dt",
		ChecklistItems:    []string{"cleaned_ok", "dent_ok", "mesh_ok"},
		BlockingLabels: []string{
			"REVALIDATION TIME END",
			"RE-VALIDATION NEED TO DONE SOON",
		},
	}
}

// StencilDescriptor returns the built-in stencil asset type.
func StencilDescriptor() *Descriptor {
	return &Descriptor{
		Name:     "STENCIL",
		Slug:     "stencil",
		KeyField: "stencil_no",
		Fields: []string{
			"fg", "side", "customer", "stencil_no", "rack_no", "location",
			"stencil_mils", "stencil_mils_usl", "stencil_mils_lsl", "stencil_supplier",
			"stencil_pr_no", "date_received", "stencil_validation_dt", "stencil_revalidation_dt",
			"tension_a", "tension_b", "tension_c", "tension_d", "tension_e", "received_by",
		},
		ListFields:        []string{"fg", "side", "customer", "stencil_no", "rack_no", "location"},
		RevalidationField: "stencil_revalidation_dt",
		ChecklistItems:    []string{"cleaned_ok", "dent_ok", "mesh_ok"},
		Measurements:      []string{"tension_a", "tension_b", "tension_c", "tension_d", "tension_e"},
		BlockingLabels: []string{
			"REVALIDATION TIME END",
			"RE-VALIDATION NEED TO DONE SOON",
			"STENCIL EOL",
			"STENCIL RE-ORDER SOON",
		},
	}
}

// Registry indexes asset type descriptors by name and slug.
type Registry struct {
	ordered []*Descriptor
	byKey   map[string]*Descriptor
}

// NewRegistry validates and indexes the given descriptors.
func NewRegistry(descs ...*Descriptor) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*Descriptor)}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		for _, k := range []string{strings.ToUpper(d.Name), strings.ToUpper(d.Slug)} {
			if existing, ok := r.byKey[k]; ok && existing != d {
				return nil, fmt.Errorf("duplicate asset type %q", k)
			}
			r.byKey[k] = d
		}
		r.ordered = append(r.ordered, d)
	}
	return r, nil
}

// DefaultRegistry returns a registry with the pallet and stencil types.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(PalletDescriptor(), StencilDescriptor())
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves a descriptor by name or slug, case-insensitively.
func (r *Registry) Lookup(nameOrSlug string) (*Descriptor, bool) {
	d, ok := r.byKey[strings.ToUpper(strings.TrimSpace(nameOrSlug))]
	return d, ok
}

// All returns the descriptors in registration order.
func (r *Registry) All() []*Descriptor {
	return slices.Clone(r.ordered)
}
