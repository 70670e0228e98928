// Package checkpoint persists per-channel export progress markers.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/blockedby/channel-archiver/internal/models"
)

// Store keeps one durable checkpoint record per channel. It is owned by the
// export coordinator; the sequential per-channel cycle makes it effectively
// single-writer.
type Store struct {
	db *gorm.DB
}

// NewStore creates a checkpoint store and runs its migration.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.ChannelCheckpoint{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoints: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the checkpoint for a channel, nil when none exists yet.
func (s *Store) Load(channelID int64) (*models.ChannelCheckpoint, error) {
	var cp models.ChannelCheckpoint
	err := s.db.First(&cp, "channel_id = ?", channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %d: %w", channelID, err)
	}
	return &cp, nil
}

// Save upserts the checkpoint for a channel, stamping LastCheck.
func (s *Store) Save(cp *models.ChannelCheckpoint) error {
	cp.LastCheck = time.Now().UTC()
	if err := s.db.Save(cp).Error; err != nil {
		return fmt.Errorf("save checkpoint %d: %w", cp.ChannelID, err)
	}
	return nil
}

// Reset removes a channel's checkpoint so the next cycle runs a full export.
func (s *Store) Reset(channelID int64) error {
	err := s.db.Delete(&models.ChannelCheckpoint{}, "channel_id = ?", channelID).Error
	if err != nil {
		return fmt.Errorf("reset checkpoint %d: %w", channelID, err)
	}
	return nil
}

// All returns every stored checkpoint, for the status api.
func (s *Store) All() ([]models.ChannelCheckpoint, error) {
	var out []models.ChannelCheckpoint
	if err := s.db.Order("channel_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}
