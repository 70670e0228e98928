package telegram

import (
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"gorm.io/gorm"

	"github.com/blockedby/channel-archiver/internal/config"
)

// NewPersistentClient creates a telegram client backed by the database for
// session storage. Auth key refreshes are persisted back automatically.
//
// When the database holds no session yet and cfg.TGSessionStr is set, the
// string session seeds the storage on first connect.
func NewPersistentClient(cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	var sessionConstructor sessionMaker.SessionConstructor = sessionMaker.SqlSession(db.Dialector)

	var count int64
	if err := db.Table("sessions").Count(&count).Error; err == nil && count == 0 && cfg.TGSessionStr != "" {
		sessionConstructor = sessionMaker.StringSession(cfg.TGSessionStr)
	}

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""), // empty = use session
		&gotgproto.ClientOpts{
			Session:          sessionConstructor,
			DisableCopyright: true,
			InMemory:         false,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}

	return client, nil
}
