package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Preference keys in the settings table.
const (
	KeyModelVariant        = "model_variant"
	KeyConfidenceThreshold = "confidence_threshold"
	KeyMuteAlerts          = "mute_alerts"
	KeyAutostart           = "autostart_monitoring"
)

// Preferences are the user-editable settings.
type Preferences struct {
	Variant          string  `json:"variant"`
	ThresholdPercent float64 `json:"threshold_percent"`
	Muted            bool    `json:"muted"`
	Autostart        bool    `json:"autostart"`
}

// DefaultPreferences returns the settings used before the user changes any.
func DefaultPreferences() Preferences {
	return Preferences{
		Variant:          "512",
		ThresholdPercent: 75,
		Muted:            false,
		Autostart:        true,
	}
}

// PreferenceRepository reads and writes Preferences.
type PreferenceRepository struct {
	db       *sql.DB
	defaults Preferences
}

// Preferences returns the preference repository for this store, falling
// back to DefaultPreferences for unset keys.
func (s *Store) Preferences() *PreferenceRepository {
	return &PreferenceRepository{db: s.db, defaults: DefaultPreferences()}
}

// WithDefaults returns a copy of r that falls back to d for unset keys.
func (r *PreferenceRepository) WithDefaults(d Preferences) *PreferenceRepository {
	return &PreferenceRepository{db: r.db, defaults: d}
}

// Get returns the stored preferences. Unset or unparsable values keep their
// default.
func (r *PreferenceRepository) Get() (Preferences, error) {
	p := r.defaults

	rows, err := r.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return p, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return p, err
		}

		switch key {
		case KeyModelVariant:
			if value != "" {
				p.Variant = value
			}
		case KeyConfidenceThreshold:
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				p.ThresholdPercent = v
			}
		case KeyMuteAlerts:
			if v, err := strconv.ParseBool(value); err == nil {
				p.Muted = v
			}
		case KeyAutostart:
			if v, err := strconv.ParseBool(value); err == nil {
				p.Autostart = v
			}
		}
	}

	return p, rows.Err()
}

// Save writes every preference in one transaction.
func (r *PreferenceRepository) Save(p Preferences) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	values := map[string]string{
		KeyModelVariant:        p.Variant,
		KeyConfidenceThreshold: strconv.FormatFloat(p.ThresholdPercent, 'f', -1, 64),
		KeyMuteAlerts:          strconv.FormatBool(p.Muted),
		KeyAutostart:           strconv.FormatBool(p.Autostart),
	}

	for key, value := range values {
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// Reset deletes all stored preferences.
func (r *PreferenceRepository) Reset() error {
	_, err := r.db.Exec(`DELETE FROM settings`)
	return err
}
