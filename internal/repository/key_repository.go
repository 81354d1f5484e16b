package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGSpeechBot/internal/models"
)

// KeyRepository persists user API keys in MySQL.
type KeyRepository struct {
	db *sql.DB
}

func NewKeyRepository(db *sql.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

func (r *KeyRepository) FindByUserID(ctx context.Context, userID int64) (*models.UserCredential, error) {
	const query = `SELECT user_id, api_key, updated_at FROM user_keys WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var c models.UserCredential
	if err := row.Scan(&c.UserID, &c.APIKey, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user key: %w", err)
	}
	return &c, nil
}

func (r *KeyRepository) Upsert(ctx context.Context, userID int64, apiKey string) error {
	const query = `
INSERT INTO user_keys (user_id, api_key, updated_at) VALUES (?, ?, NOW())
ON DUPLICATE KEY UPDATE api_key = VALUES(api_key), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, userID, apiKey); err != nil {
		return fmt.Errorf("upsert user key: %w", err)
	}
	return nil
}

func (r *KeyRepository) ListAll(ctx context.Context) ([]models.UserCredential, error) {
	const query = `SELECT user_id, api_key, updated_at FROM user_keys`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user keys: %w", err)
	}
	defer rows.Close()

	var creds []models.UserCredential
	for rows.Next() {
		var c models.UserCredential
		if err := rows.Scan(&c.UserID, &c.APIKey, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user key: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}
