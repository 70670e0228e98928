package telegram

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"gorm.io/gorm"
)

// QRLogin runs the QR login flow on a throwaway in-memory session and returns
// the captured session data. onToken receives the login URL every time
// telegram issues a fresh token; tokens expire after about thirty seconds, so
// the callback may fire more than once.
func QRLogin(ctx context.Context, apiID int, apiHash string, onToken func(url string)) (*session.Data, error) {
	memStorage := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()

	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: memStorage,
		UpdateHandler:  &dispatcher,
	})

	var data *session.Data
	err := client.Run(ctx, func(ctx context.Context) error {
		loggedIn := qrlogin.OnLoginToken(&dispatcher)

		_, authErr := client.QR().Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			onToken(token.URL())
			return nil
		})
		if authErr != nil {
			return authErr
		}

		loader := session.Loader{Storage: memStorage}
		var loadErr error
		data, loadErr = loader.Load(ctx)
		return loadErr
	})
	if err != nil {
		return nil, fmt.Errorf("qr login: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("qr login: no session captured")
	}
	return data, nil
}

// ConvertSession wraps raw session data in the storage record the persistent
// client reads. The storage layer expects the JSON encoding of session.Data.
func ConvertSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    dataJSON,
	}, nil
}

// SaveSession upserts session data into the sessions table. Version is the
// primary key and fixed, so repeated saves overwrite the previous session.
func SaveSession(db *gorm.DB, data *session.Data) error {
	sess, err := ConvertSession(data)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("migrate sessions table: %w", err)
	}
	if err := db.Save(sess).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
