package db

import (
	"fmt"

	"github.com/zulandar/parley/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model the archive migrates.
func AllModels() []interface{} {
	return []interface{}{
		&models.Negotiation{},
		&models.RoomOutcome{},
		&models.HeraldPost{},
	}
}

// AutoMigrate creates or updates the archive tables.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops every archive table and recreates the schema empty.
func Reset(gdb *gorm.DB) error {
	if err := gdb.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(gdb)
}

// SaveOutcome archives a room's terminal result. The room id is unique, so
// a replayed completion (reconnect races, duplicate terminal frames) keeps
// the first row.
func SaveOutcome(gdb *gorm.DB, o *models.RoomOutcome) error {
	result := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoNothing: true,
	}).Create(o)
	if result.Error != nil {
		return fmt.Errorf("db: save outcome %s: %w", o.RoomID, result.Error)
	}
	return nil
}

// UpsertSession writes or refreshes a session row keyed by session id.
func UpsertSession(gdb *gorm.DB, n *models.Negotiation) error {
	result := gdb.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"item_name", "max_budget", "quantity", "max_rounds",
			"status", "rooms", "completed_at", "updated_at",
		}),
	}).Create(n)
	if result.Error != nil {
		return fmt.Errorf("db: upsert session %s: %w", n.SessionID, result.Error)
	}
	return nil
}

// MarkPosted records a herald notification. Returns false when the same
// (kind, ref) pair was already posted.
func MarkPosted(gdb *gorm.DB, post *models.HeraldPost) (bool, error) {
	result := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "ref"}},
		DoNothing: true,
	}).Create(post)
	if result.Error != nil {
		return false, fmt.Errorf("db: mark posted %s/%s: %w", post.Kind, post.Ref, result.Error)
	}
	return result.RowsAffected > 0, nil
}
