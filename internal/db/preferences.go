package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PreferenceStore reads per-user notification preferences. The rows are
// owned and written by the settings subsystem; this pipeline only reads.
type PreferenceStore struct {
	db     *DB
	logger *zap.Logger
}

// NewPreferenceStore creates a preference store backed by the given pool.
func NewPreferenceStore(db *DB, logger *zap.Logger) *PreferenceStore {
	return &PreferenceStore{
		db:     db,
		logger: logger,
	}
}

// GetPreference returns the user's preference row, or the default (all
// channels enabled, no quiet hours) when no row exists.
func (s *PreferenceStore) GetPreference(ctx context.Context, userID uuid.UUID) (*Preference, error) {
	query := `
		SELECT
			user_id, in_app_enabled, push_enabled, email_enabled, sms_enabled,
			quiet_hours_start, quiet_hours_end, timezone, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`

	var pref Preference
	err := s.db.Pool().QueryRow(ctx, query, userID).Scan(
		&pref.UserID,
		&pref.InAppEnabled,
		&pref.PushEnabled,
		&pref.EmailEnabled,
		&pref.SMSEnabled,
		&pref.QuietHoursStart,
		&pref.QuietHoursEnd,
		&pref.Timezone,
		&pref.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return DefaultPreference(userID), nil
	}

	if err != nil {
		s.logger.Error("failed to load preference",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return nil, fmt.Errorf("query preference: %w", err)
	}

	return &pref, nil
}
