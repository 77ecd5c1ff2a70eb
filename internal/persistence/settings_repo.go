package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/skobkin/resqrelay/internal/domain"
)

type SettingsRepo struct {
	db       *sql.DB
	generate func() domain.DeviceID
}

var _ domain.SettingsStore = (*SettingsRepo)(nil)

func NewSettingsRepo(db *sql.DB) *SettingsRepo {
	return &SettingsRepo{db: db, generate: domain.NewDeviceID}
}

func (r *SettingsRepo) Bool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, ok, err := r.get(ctx, key)
	if err != nil || !ok {
		return fallback, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("parse setting %s: %w", key, err)
	}

	return v, nil
}

func (r *SettingsRepo) SetBool(ctx context.Context, key string, value bool) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, strconv.FormatBool(value)); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}

	return nil
}

// DeviceID returns the persisted identity, generating it on first use. A
// concurrent first call loses the INSERT OR IGNORE race and reads the winner.
func (r *SettingsRepo) DeviceID(ctx context.Context) (domain.DeviceID, error) {
	raw, ok, err := r.get(ctx, domain.SettingDeviceID)
	if err != nil {
		return 0, err
	}
	if ok {
		return domain.ParseDeviceID(raw)
	}

	id := r.generate()
	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settings(key, value) VALUES(?, ?)
	`, domain.SettingDeviceID, id.Hex()); err != nil {
		return 0, fmt.Errorf("store device id: %w", err)
	}

	raw, ok, err = r.get(ctx, domain.SettingDeviceID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("device id missing after init")
	}

	return domain.ParseDeviceID(raw)
}

func (r *SettingsRepo) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}

	return value, true, nil
}
