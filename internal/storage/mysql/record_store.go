// Package mysql mirrors detection records into MySQL through gorm.
package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// Config controls the gorm connection.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// recordRow is one practice per run. Results and the full record are kept as
// JSON text so the schema does not follow the category list.
type recordRow struct {
	RunID             string `gorm:"primaryKey;size:64"`
	PracticeID        string `gorm:"primaryKey;size:191"`
	Name              string `gorm:"type:text"`
	Website           string `gorm:"type:text"`
	FinalURL          string `gorm:"type:text"`
	HTTPStatus        int
	Status            string `gorm:"size:32;index"`
	HasOnlineBooking  bool
	HasOnlinePayments bool
	HasOnlineForms    bool
	BookingVendor     string `gorm:"size:128;index"`
	PaymentVendor     string `gorm:"size:128;index"`
	PMSVendor         string `gorm:"size:128;index"`
	Partial           bool
	Results           string `gorm:"type:json"`
	Record            string `gorm:"type:json"`
	CrawledAt         time.Time
}

func (recordRow) TableName() string { return "detection_records" }

// RecordStore upserts detection records with gorm.
type RecordStore struct {
	db *gorm.DB
}

// New opens the connection and migrates the record table.
func New(cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.mysql_dsn is required")
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("migrate detection_records: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// MirrorRecord inserts rec or replaces the existing row for the same run and practice.
func (s *RecordStore) MirrorRecord(ctx context.Context, rec crawler.DetectionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RecordStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("mysql handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close mysql: %w", err)
	}
	return nil
}

func toRow(rec crawler.DetectionRecord) (recordRow, error) {
	if rec.ID == "" {
		return recordRow{}, fmt.Errorf("record id is required")
	}
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return recordRow{}, fmt.Errorf("marshal results: %w", err)
	}
	full, err := json.Marshal(rec)
	if err != nil {
		return recordRow{}, fmt.Errorf("marshal record: %w", err)
	}
	return recordRow{
		RunID:             rec.RunID,
		PracticeID:        rec.ID,
		Name:              rec.Name,
		Website:           rec.Website,
		FinalURL:          rec.FinalURL,
		HTTPStatus:        rec.HTTPStatus,
		Status:            string(rec.Status),
		HasOnlineBooking:  rec.HasOnlineBooking,
		HasOnlinePayments: rec.HasOnlinePayments,
		HasOnlineForms:    rec.HasOnlineForms,
		BookingVendor:     rec.Result(crawler.CategoryBooking).Vendor,
		PaymentVendor:     rec.Result(crawler.CategoryPayment).Vendor,
		PMSVendor:         rec.Result(crawler.CategoryPMS).Vendor,
		Partial:           rec.Partial,
		Results:           string(results),
		Record:            string(full),
		CrawledAt:         rec.CrawledAt,
	}, nil
}
