package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-stream/internal/chat"
	"github.com/suPer8Hu/chat-stream/internal/memory"
	"github.com/suPer8Hu/chat-stream/internal/pricing"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate creates the tables this service owns. Schema administration beyond
// that (grants, partitioning) is handled outside the service.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&chat.Message{},
		&chat.TelemetryEvent{},
		&chat.UsageRollup{},
		&memory.ContextRecord{},
		&pricing.Record{},
	)
}
