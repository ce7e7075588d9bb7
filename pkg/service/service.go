// Package service orchestrates asset, cycle and history changes. Every mutating
// operation runs in a single database transaction: load with a row lock, consult
// the status gate, mutate, record history, commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/cycle"
	"github.com/shopfloor/isos/pkg/database"
	"github.com/shopfloor/isos/pkg/directory"
	"github.com/shopfloor/isos/pkg/gate"
	"github.com/shopfloor/isos/pkg/history"
	"github.com/shopfloor/isos/pkg/metrics"
)

// DefaultLockTimeout bounds how long a request may wait on a competing transaction.
const DefaultLockTimeout = 5 * time.Second

// Options configures a Service.
type Options struct {
	// LockTimeout bounds the whole transaction, lock waits included. Zero selects DefaultLockTimeout.
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// Service runs the use cases of one asset type.
type Service struct {
	db          *gorm.DB
	desc        *asset.Descriptor
	gate        *gate.Gate
	store       *asset.Store
	recorder    *history.Recorder
	tracker     *cycle.Tracker
	operators   *directory.Operators
	lockTimeout time.Duration
	logger      *slog.Logger
}

// New creates the service for asset type d.
func New(db *gorm.DB, d *asset.Descriptor, opts Options) *Service {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := gate.New(d)
	return &Service{
		db:          db,
		desc:        d,
		gate:        g,
		store:       asset.NewStore(db),
		recorder:    history.NewRecorder(db),
		tracker:     cycle.NewTracker(db, d, g),
		operators:   directory.NewOperators(db),
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger.With("asset_type", d.Name),
	}
}

// Descriptor returns the asset type served.
func (s *Service) Descriptor() *asset.Descriptor { return s.desc }

// Gate returns the status gate of the asset type.
func (s *Service) Gate() *gate.Gate { return s.gate }

// scope holds the stores bound to one transaction.
type scope struct {
	tx        *gorm.DB
	store     *asset.Store
	recorder  *history.Recorder
	tracker   *cycle.Tracker
	operators *directory.Operators
}

// inTx runs fn in one transaction. A request cancelled before the transaction
// starts is dropped; once started it runs to commit or rollback regardless of the
// caller, bounded by the lock timeout.
func (s *Service) inTx(ctx context.Context, op string, fn func(sc *scope) error) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		metrics.ObserveOperation(s.desc.Name, op, "Cancelled", start)
		return fmt.Errorf("%s cancelled before start: %w", op, err)
	}

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTimeout)
	defer cancel()

	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		if err := database.SetLockTimeout(tx, s.lockTimeout); err != nil {
			return err
		}
		return fn(s.bind(tx))
	})
	err = s.classify(txCtx, op, err)

	result := "ok"
	if err != nil {
		kind := apperr.KindOf(err)
		result = string(kind)
		if kind == apperr.KindConflict || kind == apperr.KindInternal {
			s.logger.Warn("operation failed", "op", op, "error", err, "duration", time.Since(start))
		}
	}
	metrics.ObserveOperation(s.desc.Name, op, result, start)
	return err
}

// classify maps contention and deadline failures to Conflict. Typed errors pass through.
func (s *Service) classify(txCtx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if database.IsContention(err) || txCtx.Err() != nil {
		return apperr.Conflict(err, "%s %s busy, retry later", s.desc.Slug, op)
	}
	return err
}

// inRead runs fn outside any transaction, bounded by the lock timeout so a read
// cannot wait indefinitely for a connection or a lock.
func (s *Service) inRead(ctx context.Context, op string, fn func(sc *scope) error) error {
	readCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	err := fn(s.bind(s.db.WithContext(readCtx)))
	if err != nil && ctx.Err() != nil {
		return err
	}
	return s.classify(readCtx, op, err)
}

func (s *Service) bind(db *gorm.DB) *scope {
	return &scope{
		tx:        db,
		store:     s.store.WithTx(db),
		recorder:  s.recorder.WithTx(db),
		tracker:   s.tracker.WithTx(db),
		operators: s.operators.WithTx(db),
	}
}

// record appends history for the change old→new and returns the number of entries.
func (sc *scope) record(d *asset.Descriptor, id uint, actor string, old, updated asset.Snapshot) (int, error) {
	n, err := sc.recorder.Record(id, actor, d.TrackedFields(), old, updated)
	if err != nil {
		return 0, err
	}
	metrics.AddHistoryEntries(d.Name, n)
	return n, nil
}
