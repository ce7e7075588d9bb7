package database

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// Migrator creates or updates the tables of one store.
type Migrator interface {
	AutoMigrate() error
}

// MigratorFunc adapts a function to Migrator.
type MigratorFunc func() error

// AutoMigrate calls f.
func (f MigratorFunc) AutoMigrate() error { return f() }

// Locker serializes schema migration and seeding across server replicas.
type Locker interface {
	// WithLock runs fn while holding the migration lock.
	WithLock(ctx context.Context, fn func() error) error
}

// NewLocker returns a Locker for the dialect of db. PostgreSQL uses an advisory
// lock; other databases insert a row into a lock table.
func NewLocker(db *gorm.DB) (Locker, error) {
	if db == nil {
		return noopLock{}, nil
	}
	if db.Dialector.Name() == TypePostgres {
		return &advisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte("isos-server-migration"))),
		}, nil
	}
	if err := db.AutoMigrate(&lockRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate migration lock: %w", err)
	}
	return &tableLock{
		db:       db,
		staleAge: 5 * time.Minute,
		maxWait:  30 * time.Second,
	}, nil
}

// Migrate runs every migrator and then seed under the migration lock. seed may be nil.
func Migrate(ctx context.Context, locker Locker, log *slog.Logger, seed func(context.Context) error, migrators ...Migrator) error {
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()
	err := locker.WithLock(ctx, func() error {
		for _, m := range migrators {
			if err := m.AutoMigrate(); err != nil {
				return err
			}
		}
		if seed != nil {
			return seed(ctx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Info("database schema ready", "tables", len(migrators), "duration", time.Since(start))
	return nil
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type advisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	// Advisory locks are per session, so pin one connection for lock and unlock.
	conn, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	c, err := conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer c.Close()

	if _, err := c.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockID); err != nil {
		return fmt.Errorf("failed to acquire migration advisory lock: %w", err)
	}
	defer func() {
		_, _ = c.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", l.lockID)
	}()

	return fn()
}

type lockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (lockRecord) TableName() string { return "migration_lock" }

const lockRowID = "migration"

// tableLock relies on the primary key to admit one holder. Rows older than
// staleAge are treated as left behind by a crashed replica.
type tableLock struct {
	db       *gorm.DB
	staleAge time.Duration
	maxWait  time.Duration
}

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	acquire := func() error {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", lockRowID, time.Now().Add(-l.staleAge)).
			Delete(&lockRecord{})

		err := l.db.WithContext(ctx).Create(&lockRecord{
			ID:       lockRowID,
			LockedAt: time.Now(),
			LockedBy: hostname,
		}).Error
		if err == nil {
			return nil
		}
		if IsDuplicate(err) || IsContention(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = l.maxWait
	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	defer func() {
		l.db.WithContext(context.WithoutCancel(ctx)).Where("id = ?", lockRowID).Delete(&lockRecord{})
	}()

	return fn()
}
