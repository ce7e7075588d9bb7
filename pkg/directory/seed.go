package directory

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// SeedConfig controls the default accounts created on first start.
type SeedConfig struct {
	AdminUsername string `yaml:"adminUsername"`
	AdminPassword string `yaml:"adminPassword"`
	AdminEmpID    string `yaml:"adminEmpId"`
	// Users is the number of UserN accounts (password UserN, emp id EMPnnn).
	Users int `yaml:"users"`
	// Operators is the number of OP-USERN operators (operator id OPnnn).
	Operators int `yaml:"operators"`
}

// DefaultSeedConfig returns the default seed set.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		AdminUsername: "Admin",
		AdminPassword: "adminSRBG",
		AdminEmpID:    "ADMIN",
		Users:         20,
		Operators:     20,
	}
}

// SeedResult reports how many rows Seed inserted.
type SeedResult struct {
	Users     int
	Operators int
}

// Seed inserts the default users and operators. Each table is only seeded when it
// is empty, so running Seed again is a no-op.
func Seed(ctx context.Context, db *gorm.DB, creds *Credentials, cfg SeedConfig, logger *slog.Logger) (SeedResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var result SeedResult

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Model(&User{}).Count(&users).Error; err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		if users == 0 {
			seed, err := seedUsers(creds, cfg)
			if err != nil {
				return err
			}
			if len(seed) > 0 {
				if err := tx.Create(&seed).Error; err != nil {
					return fmt.Errorf("seed users: %w", err)
				}
			}
			result.Users = len(seed)
		}

		var operators int64
		if err := tx.Model(&Operator{}).Count(&operators).Error; err != nil {
			return fmt.Errorf("count operators: %w", err)
		}
		if operators == 0 && cfg.Operators > 0 {
			seed := make([]Operator, 0, cfg.Operators)
			for i := 1; i <= cfg.Operators; i++ {
				seed = append(seed, Operator{
					Username:   fmt.Sprintf("OP-USER%d", i),
					OperatorID: fmt.Sprintf("OP%03d", i),
				})
			}
			if err := tx.Create(&seed).Error; err != nil {
				return fmt.Errorf("seed operators: %w", err)
			}
			result.Operators = len(seed)
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}

	if result.Users > 0 || result.Operators > 0 {
		logger.Info("seeded default accounts", "users", result.Users, "operators", result.Operators)
	}
	return result, nil
}

func seedUsers(creds *Credentials, cfg SeedConfig) ([]User, error) {
	var users []User
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		h, err := creds.HashPassword(cfg.AdminPassword)
		if err != nil {
			return nil, err
		}
		users = append(users, User{Username: cfg.AdminUsername, PasswordHash: h, EmpID: cfg.AdminEmpID})
	}
	for i := 1; i <= cfg.Users; i++ {
		name := fmt.Sprintf("User%d", i)
		h, err := creds.HashPassword(name)
		if err != nil {
			return nil, err
		}
		users = append(users, User{Username: name, PasswordHash: h, EmpID: fmt.Sprintf("EMP%03d", i)})
	}
	return users, nil
}
