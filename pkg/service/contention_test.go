package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/asset"
)

func newMockService(t *testing.T, lockTimeout time.Duration) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return New(db, asset.PalletDescriptor(), Options{LockTimeout: lockTimeout}), mock
}

func TestLockTimeoutMapsToConflict(t *testing.T) {
	svc, mock := newMockService(t, 2*time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout = '2000ms'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "assets"`).WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	_, err := svc.ApplyAction(context.Background(), "EMP001", 1, "MOVE", "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.True(t, apperr.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlowTransactionMapsToConflict(t *testing.T) {
	svc, mock := newMockService(t, 50*time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "assets"`).WillDelayFor(time.Second).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	start := time.Now()
	_, err := svc.Patch(context.Background(), "EMP001", 1, asset.Patch{"location": "X"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Less(t, time.Since(start), 900*time.Millisecond, "the deadline cuts the wait short")
}

func TestDriverFailureIsInternal(t *testing.T) {
	svc, mock := newMockService(t, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "assets"`).WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	mock.ExpectRollback()

	_, err := svc.Delete(context.Background(), "EMP001", 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
