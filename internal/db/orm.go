package db

import (
	"context"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"garage-control/internal/model"
)

// openORM opens a GORM SQLite connection backed by the pure-Go driver.
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: path}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&model.VehicleRecord{}, &model.AuditEvent{}, &model.NodeHeartbeat{})
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// upsertRecord inserts a session on entry and overwrites it on exit.
func upsertRecord(ctx context.Context, db *gorm.DB, r *model.VehicleRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		UpdateAll: true,
	}).Create(r).Error
}

func insertAudit(ctx context.Context, db *gorm.DB, a *model.AuditEvent) error {
	return db.WithContext(ctx).Create(a).Error
}

func saveHeartbeat(ctx context.Context, db *gorm.DB, h *model.NodeHeartbeat) error {
	return db.WithContext(ctx).Save(h).Error
}
