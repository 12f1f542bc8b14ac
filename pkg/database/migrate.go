package database

import (
	calldomain "commhub-backend/internal/call/domain"
	conversationdomain "commhub-backend/internal/conversation/domain"
	ingestiondomain "commhub-backend/internal/ingestion/domain"
	syncdomain "commhub-backend/internal/sync/domain"

	"gorm.io/gorm"
)

// Models lists every table owned by the service
func Models() []interface{} {
	return []interface{}{
		&syncdomain.SyncCursor{},
		&syncdomain.PushSubscription{},
		&conversationdomain.Conversation{},
		&conversationdomain.Message{},
		&calldomain.CallLog{},
		&ingestiondomain.IngestTask{},
	}
}

// Migrate runs AutoMigrate for all models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
