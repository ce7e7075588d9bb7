package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/database"
)

// Operators is the directory of registered production operators.
type Operators struct {
	db *gorm.DB
}

// NewOperators creates an operator directory.
func NewOperators(db *gorm.DB) *Operators {
	return &Operators{db: db}
}

// WithTx returns a directory bound to tx.
func (o *Operators) WithTx(tx *gorm.DB) *Operators {
	return &Operators{db: tx}
}

// AutoMigrate creates or updates the operators table.
func (o *Operators) AutoMigrate() error {
	if err := o.db.AutoMigrate(&Operator{}); err != nil {
		return fmt.Errorf("auto-migrate operators: %w", err)
	}
	return nil
}

// Exists reports whether operatorRef is a registered operator id.
func (o *Operators) Exists(operatorRef string) (bool, error) {
	var n int64
	err := o.db.Model(&Operator{}).Where("operator_id = ?", strings.TrimSpace(operatorRef)).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check operator: %w", err)
	}
	return n > 0, nil
}

// List returns every operator ordered by id.
func (o *Operators) List(ctx context.Context) ([]Operator, error) {
	var ops []Operator
	if err := o.db.WithContext(ctx).Order("id ASC").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	return ops, nil
}

// Rename changes the username and/or operator id of the operator identified by the
// current (username, operatorID) pair.
func (o *Operators) Rename(ctx context.Context, username, operatorID, newUsername, newOperatorID string) error {
	if username == "" || operatorID == "" {
		return apperr.Validation("current username and operator id required")
	}

	var op Operator
	err := o.db.WithContext(ctx).Where("username = ? AND operator_id = ?", username, operatorID).First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Unauthorized("invalid current operator credentials")
		}
		return fmt.Errorf("get operator: %w", err)
	}

	updates := map[string]any{}
	if newUsername != "" {
		updates["username"] = newUsername
	}
	if newOperatorID != "" {
		updates["operator_id"] = newOperatorID
	}
	if len(updates) == 0 {
		return apperr.Validation("no new operator credentials provided")
	}

	err = o.db.WithContext(ctx).Model(&Operator{}).Where("id = ?", op.ID).Updates(updates).Error
	if err != nil {
		if database.IsDuplicate(err) {
			return apperr.Validation("operator username or id already taken")
		}
		return fmt.Errorf("rename operator: %w", err)
	}
	return nil
}
