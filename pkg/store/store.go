package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"listing-scanner/pkg/models"

	"github.com/glebarez/sqlite"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MatchRow is one persisted match.
type MatchRow struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:36;index;uniqueIndex:idx_session_seq"`
	Filter    string
	Seq       int `gorm:"uniqueIndex:idx_session_seq"`
	Title     string
	Link      string `gorm:"index"`
	Page      int
	Index     int `gorm:"column:item_index"`
	FoundAt   time.Time
	CreatedAt time.Time
}

// Record converts the row back into a MatchRecord.
func (r MatchRow) Record() models.MatchRecord {
	return models.MatchRecord{
		Seq:       r.Seq,
		Title:     r.Title,
		Link:      r.Link,
		Page:      r.Page,
		Index:     r.Index,
		Timestamp: r.FoundAt,
	}
}

// Store keeps match history in SQLite.
type Store struct {
	db *gorm.DB
}

// Open creates the database file and its schema when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: NewGormLogger(zlog.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&MatchRow{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	zlog.Info().Str("path", path).Msg("💾 Match store ready")
	return &Store{db: db}, nil
}

// SaveMatch inserts rec; saving the same session and sequence twice is a no-op.
func (s *Store) SaveMatch(ctx context.Context, sessionID, filter string, rec models.MatchRecord) error {
	row := MatchRow{
		SessionID: sessionID,
		Filter:    filter,
		Seq:       rec.Seq,
		Title:     rec.Title,
		Link:      rec.Link,
		Page:      rec.Page,
		Index:     rec.Index,
		FoundAt:   rec.Timestamp,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save match %d: %w", rec.Seq, err)
	}
	return nil
}

// ListSession returns a session's matches in sequence order.
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]models.MatchRecord, error) {
	var rows []MatchRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list session %s: %w", sessionID, err)
	}

	records := make([]models.MatchRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.Record())
	}
	return records, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
