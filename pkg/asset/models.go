package asset

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FieldValues is a custom GORM type for the descriptive fields of an asset, stored as JSON.
type FieldValues map[string]string

// Scan implements the sql.Scanner interface for FieldValues.
func (f *FieldValues) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for FieldValues: %T", value)
	}
	return json.Unmarshal(bytes, f)
}

// Value implements the driver.Valuer interface for FieldValues.
func (f FieldValues) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Asset is one physical pallet or stencil.
type Asset struct {
	ID               uint        `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	AssetType        string      `gorm:"column:asset_type;size:191;uniqueIndex:idx_asset_type_key,priority:1;not null" json:"assetType"`
	AssetKey         string      `gorm:"column:asset_key;size:191;uniqueIndex:idx_asset_type_key,priority:2;not null" json:"assetKey"`
	Fields           FieldValues `gorm:"column:fields;type:text" json:"fields"`
	ConditionStatus  string      `gorm:"column:condition_status;default:ACTIVE;not null" json:"conditionStatus"`
	ProductionStatus string      `gorm:"column:production_status;not null" json:"productionStatus"`
	EmpID            string      `gorm:"column:emp_id" json:"empId"`
	Remarks          string      `gorm:"column:remarks" json:"remarks"`
	CreatedAt        time.Time   `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time   `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (Asset) TableName() string { return "assets" }

// Snapshot returns the value of every tracked field. Missing descriptive fields read as "".
func (a *Asset) Snapshot(d *Descriptor) Snapshot {
	s := make(Snapshot, len(d.Fields)+4)
	for _, f := range d.Fields {
		s[f] = a.Fields[f]
	}
	s[FieldConditionStatus] = a.ConditionStatus
	s[FieldProductionStatus] = a.ProductionStatus
	s[FieldEmpID] = a.EmpID
	s[FieldRemarks] = a.Remarks
	return s
}

// Snapshot is a flat view of an asset's tracked fields, used for diffing.
type Snapshot map[string]string

// Equal reports whether both snapshots hold the same trimmed value for every field in fields.
func (s Snapshot) Equal(other Snapshot, fields []string) bool {
	for _, f := range fields {
		if trim(s[f]) != trim(other[f]) {
			return false
		}
	}
	return true
}

// NewAsset holds the input of a create operation.
type NewAsset struct {
	Fields           map[string]string
	ConditionStatus  string
	ProductionStatus string
	Remarks          string
	EmpID            string
}

// Patch names exactly the fields an update changes. Keys are descriptive field names
// or condition_status, production_status, remarks.
type Patch map[string]string

// FullPatch builds a replacement patch: every descriptive field and remarks is set,
// missing values become empty. Status fields are only included when present in values.
func FullPatch(d *Descriptor, values map[string]string) Patch {
	p := make(Patch, len(d.Fields)+3)
	for _, f := range d.Fields {
		p[f] = values[f]
	}
	p[FieldRemarks] = values[FieldRemarks]
	for _, f := range []string{FieldConditionStatus, FieldProductionStatus} {
		if v, ok := values[f]; ok {
			p[f] = v
		}
	}
	return p
}
