package directory

import "time"

// User is a login account allowed to change asset records.
type User struct {
	ID           uint      `gorm:"primaryKey;column:id;autoIncrement"`
	Username     string    `gorm:"column:username;size:191;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	EmpID        string    `gorm:"column:emp_id"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (User) TableName() string { return "users" }

// Operator is a production operator allowed to scan ISOS cycles.
type Operator struct {
	ID         uint   `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	Username   string `gorm:"column:username;size:191;uniqueIndex;not null" json:"username"`
	OperatorID string `gorm:"column:operator_id;size:191;uniqueIndex;not null" json:"operatorId"`
}

// TableName returns the GORM table name.
func (Operator) TableName() string { return "operators" }
