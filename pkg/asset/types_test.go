package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "RACK-1", Normalize("rack-1 "))
	assert.Equal(t, "RACK-1", Normalize("  RACK-1"))
	assert.Equal(t, "", Normalize("   "))
	assert.Equal(t, Normalize("Re-Validation need to done soon"), Normalize("RE-VALIDATION NEED TO DONE SOON"))
}

func TestBuiltInDescriptorsAreValid(t *testing.T) {
	for _, d := range []*Descriptor{PalletDescriptor(), StencilDescriptor()} {
		t.Run(d.Name, func(t *testing.T) {
			require.NoError(t, d.Validate())
			assert.True(t, d.IsField(d.KeyField))
			assert.True(t, d.IsPatchable(FieldConditionStatus))
			assert.False(t, d.IsPatchable(FieldEmpID), "emp_id is stamped, never patched")
			assert.Equal(t, len(d.Fields)+4, len(d.TrackedFields()))
		})
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Descriptor)
	}{
		{"missing slug", func(d *Descriptor) { d.Slug = "" }},
		{"no fields", func(d *Descriptor) { d.Fields = nil }},
		{"undeclared key", func(d *Descriptor) { d.KeyField = "tray_no" }},
		{"undeclared list field", func(d *Descriptor) { d.ListFields = append(d.ListFields, "weight") }},
		{"undeclared revalidation field", func(d *Descriptor) { d.RevalidationField = "expiry" }},
		{"no checklist", func(d *Descriptor) { d.ChecklistItems = nil }},
		{"duplicate field", func(d *Descriptor) { d.Fields = append(d.Fields, "fg") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := PalletDescriptor()
			tt.mutate(d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	d, ok := r.Lookup("pallet")
	require.True(t, ok)
	assert.Equal(t, "PALLET", d.Name)

	d, ok = r.Lookup(" Stencil ")
	require.True(t, ok)
	assert.Equal(t, "stencil_no", d.KeyField)

	_, ok = r.Lookup("tray")
	assert.False(t, ok)

	assert.Len(t, r.All(), 2)

	_, err := NewRegistry(PalletDescriptor(), PalletDescriptor())
	assert.Error(t, err, "duplicate names are rejected")
}

func TestFullPatch(t *testing.T) {
	d := PalletDescriptor()
	p := FullPatch(d, map[string]string{"pallet_no": "P-1", FieldRemarks: "x"})

	assert.Equal(t, "P-1", p["pallet_no"])
	assert.Contains(t, p, "location", "missing fields are cleared")
	assert.Equal(t, "", p["location"])
	assert.NotContains(t, p, FieldConditionStatus)

	p = FullPatch(d, map[string]string{FieldConditionStatus: "ACTIVE"})
	assert.Equal(t, "ACTIVE", p[FieldConditionStatus])
}

func TestFieldValuesScan(t *testing.T) {
	var f FieldValues
	require.NoError(t, f.Scan(`{"pallet_no":"P-1"}`))
	assert.Equal(t, "P-1", f["pallet_no"])

	require.NoError(t, f.Scan([]byte(`{"rack_no":"R1"}`)))
	assert.Equal(t, "R1", f["rack_no"])

	require.NoError(t, f.Scan(nil))
	assert.Nil(t, f)

	assert.Error(t, f.Scan(42))

	v, err := FieldValues(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}
