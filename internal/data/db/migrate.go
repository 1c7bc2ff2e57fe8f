package db

import (
	"gorm.io/gorm"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
)

func AutoMigrateAll(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&types.PathStateRow{},
		&types.ProgressRow{},
		&types.AttemptRow{},
		&types.CachedLessonRow{},
	)
}
