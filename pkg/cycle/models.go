package cycle

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Answers is a custom GORM type for checklist answers and measurements, stored as JSON.
type Answers map[string]string

// Scan implements the sql.Scanner interface for Answers.
func (a *Answers) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Answers: %T", value)
	}
	return json.Unmarshal(bytes, a)
}

// Value implements the driver.Valuer interface for Answers.
func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Cycle is one OUT→IN usage span of an asset.
//
// OpenKey mirrors AssetKey while the cycle is open and is NULL once closed; the
// unique index on (asset_type, open_key) allows at most one open cycle per asset.
type Cycle struct {
	ID           uint       `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	AssetType    string     `gorm:"column:asset_type;size:191;uniqueIndex:idx_cycle_open_key,priority:1;index:idx_cycle_asset,priority:1;not null" json:"assetType"`
	AssetKey     string     `gorm:"column:asset_key;size:191;index:idx_cycle_asset,priority:2;not null" json:"assetKey"`
	OpenKey      *string    `gorm:"column:open_key;size:191;uniqueIndex:idx_cycle_open_key,priority:2" json:"-"`
	IsOpen       bool       `gorm:"column:is_open;not null" json:"isOpen"`
	OutTime      time.Time  `gorm:"column:out_time;index;not null" json:"outTime"`
	InTime       *time.Time `gorm:"column:in_time" json:"inTime,omitempty"`
	Checklist    Answers    `gorm:"column:checklist;type:text" json:"checklist"`
	Measurements Answers    `gorm:"column:measurements;type:text" json:"measurements,omitempty"`
	Remarks      string     `gorm:"column:remarks" json:"remarks,omitempty"`
	OutOperator  string     `gorm:"column:out_operator;not null" json:"outOperator"`
	OperatorRef  string     `gorm:"column:operator_ref;not null" json:"operatorRef"`
	Outcome      string     `gorm:"column:outcome;not null" json:"outcome"`
}

// TableName returns the GORM table name.
func (Cycle) TableName() string { return "isos_cycles" }

// Input is the inspection data supplied with an OUT or IN scan.
type Input struct {
	Checklist    map[string]string
	Measurements map[string]string
	Remarks      string
}

// View is a cycle joined with the descriptive fields of its asset.
type View struct {
	Cycle
	AssetFields map[string]string `json:"assetFields,omitempty"`
}
