package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

func TestToRowFlattensRecord(t *testing.T) {
	t.Parallel()

	rec := crawler.DetectionRecord{
		ID:                "p-7",
		Name:              "Bright Smiles",
		Website:           "https://bright.com",
		HTTPStatus:        200,
		Status:            crawler.StatusProfiled,
		HasOnlinePayments: true,
		Results: map[crawler.Category]crawler.CategoryResult{
			crawler.CategoryPayment: {Category: crawler.CategoryPayment, Vendor: "Weave", Confidence: crawler.ConfidenceHigh},
		},
		RunID:     "run-2",
		CrawledAt: time.Unix(1700000000, 0).UTC(),
	}

	row, err := toRow(rec)
	require.NoError(t, err)
	assert.Equal(t, "run-2", row.RunID)
	assert.Equal(t, "p-7", row.PracticeID)
	assert.Equal(t, "Weave", row.PaymentVendor)
	assert.Equal(t, crawler.VendorUnknown, row.BookingVendor)
	assert.Equal(t, "profiled", row.Status)
	assert.True(t, row.HasOnlinePayments)

	var decoded crawler.DetectionRecord
	require.NoError(t, json.Unmarshal([]byte(row.Record), &decoded))
	assert.Equal(t, rec.Name, decoded.Name)
	assert.Contains(t, row.Results, `"Weave"`)
	assert.Equal(t, "detection_records", recordRow{}.TableName())
}

func TestToRowRequiresID(t *testing.T) {
	t.Parallel()

	_, err := toRow(crawler.DetectionRecord{})
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorContains(t, err, "mysql_dsn")
}

func newMockStore(t *testing.T) (*RecordStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return &RecordStore{db: db}, mock
}

func TestMirrorRecordUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `detection_records`.*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := crawler.DetectionRecord{ID: "p-1", RunID: "run-1", Status: crawler.StatusUnreachable}
	require.NoError(t, store.MirrorRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorRecordWrapsExecError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `detection_records`").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	err := store.MirrorRecord(context.Background(), crawler.DetectionRecord{ID: "p-1", RunID: "run-1"})
	require.ErrorContains(t, err, "upsert record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseClosesPool(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectClose()
	require.NoError(t, store.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
