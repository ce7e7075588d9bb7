// Package directory holds the login users and production operators, and issues
// session tokens for authenticated users.
package directory

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/database"
)

// Credentials authenticates users against bcrypt password hashes.
type Credentials struct {
	db   *gorm.DB
	cost int
}

// NewCredentials creates a credential store. A zero cost selects bcrypt.DefaultCost.
func NewCredentials(db *gorm.DB, cost int) *Credentials {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Credentials{db: db, cost: cost}
}

// AutoMigrate creates or updates the users table.
func (c *Credentials) AutoMigrate() error {
	if err := c.db.AutoMigrate(&User{}); err != nil {
		return fmt.Errorf("auto-migrate users: %w", err)
	}
	return nil
}

// HashPassword returns a bcrypt hash of password.
func (c *Credentials) HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Authenticate checks a username and password. It returns the user's employee id
// on success, which callers use verbatim as the acting identity.
func (c *Credentials) Authenticate(ctx context.Context, username, password string) (bool, string, error) {
	if username == "" || password == "" {
		return false, "", nil
	}
	user, err := c.lookup(ctx, username)
	if err != nil || user == nil {
		return false, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return false, "", nil
	}
	return true, user.EmpID, nil
}

func (c *Credentials) lookup(ctx context.Context, username string) (*User, error) {
	var user User
	err := c.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// CredentialChange describes the new values of a credential update. Empty fields
// are left unchanged.
type CredentialChange struct {
	NewUsername string
	NewPassword string
	NewEmpID    string
}

// ChangeCredentials updates a user after verifying the old password.
func (c *Credentials) ChangeCredentials(ctx context.Context, username, oldPassword string, change CredentialChange) error {
	if username == "" || oldPassword == "" {
		return apperr.Validation("username and old password required")
	}
	ok, _, err := c.Authenticate(ctx, username, oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Unauthorized("invalid username or old password")
	}

	updates := map[string]any{}
	if change.NewUsername != "" {
		updates["username"] = change.NewUsername
	}
	if change.NewPassword != "" {
		h, err := c.HashPassword(change.NewPassword)
		if err != nil {
			return err
		}
		updates["password_hash"] = h
	}
	if change.NewEmpID != "" {
		updates["emp_id"] = change.NewEmpID
	}
	if len(updates) == 0 {
		return apperr.Validation("nothing to update")
	}

	err = c.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Updates(updates).Error
	if err != nil {
		if database.IsDuplicate(err) {
			return apperr.Validation("username %s already taken", change.NewUsername)
		}
		return fmt.Errorf("update credentials: %w", err)
	}
	return nil
}
