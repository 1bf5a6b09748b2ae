package database

import (
	"database/sql"
	"fmt"
	"time"

	"go-proxy-rotator/internal/database/models"
)

const lastUpdatedKey = "last_updated"

// HealthRepository persists the proxy list and health map in SQLite. Save
// rewrites every row in one transaction, so the table contents always match
// the last snapshot written.
type HealthRepository struct {
	db *sql.DB
}

func NewHealthRepository(db *sql.DB) *HealthRepository {
	return &HealthRepository{db: db}
}

func (r *HealthRepository) Load() (*models.Snapshot, error) {
	snapshot := models.NewSnapshot()

	rows, err := r.db.Query(`SELECT proxy_url FROM proxy_list ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxy list: %w", err)
	}
	for rows.Next() {
		var proxyURL string
		if err := rows.Scan(&proxyURL); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan proxy list row: %w", err)
		}
		snapshot.ProxyList = append(snapshot.ProxyList, proxyURL)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy list: %w", err)
	}

	rows, err = r.db.Query(`
		SELECT endpoint, status_code, kind, disabled_at, message
		FROM proxy_errors
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxy errors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			endpoint string
			rec      models.HealthRecord
			kind     string
		)
		if err := rows.Scan(&endpoint, &rec.StatusCode, &kind, &rec.DisabledAt, &rec.Message); err != nil {
			return nil, fmt.Errorf("failed to scan proxy error row: %w", err)
		}
		rec.Kind = models.Kind(kind)
		snapshot.ProxyErrors[endpoint] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy errors: %w", err)
	}

	var lastUpdated string
	err = r.db.QueryRow(`SELECT value FROM store_meta WHERE key = ?`, lastUpdatedKey).Scan(&lastUpdated)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to read store metadata: %w", err)
	default:
		if ts, err := time.Parse(time.RFC3339, lastUpdated); err == nil {
			snapshot.LastUpdated = ts
		}
	}

	return snapshot, nil
}

func (r *HealthRepository) Save(snapshot *models.Snapshot) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM proxy_list`); err != nil {
		return fmt.Errorf("failed to clear proxy list: %w", err)
	}
	for i, proxyURL := range snapshot.ProxyList {
		if _, err := tx.Exec(`INSERT INTO proxy_list (position, proxy_url) VALUES (?, ?)`, i, proxyURL); err != nil {
			return fmt.Errorf("failed to insert proxy: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM proxy_errors`); err != nil {
		return fmt.Errorf("failed to clear proxy errors: %w", err)
	}
	for endpoint, rec := range snapshot.ProxyErrors {
		_, err := tx.Exec(`
			INSERT INTO proxy_errors (endpoint, status_code, kind, disabled_at, message)
			VALUES (?, ?, ?, ?, ?)
		`, endpoint, rec.StatusCode, string(rec.Kind), rec.DisabledAt.UTC(), rec.Message)
		if err != nil {
			return fmt.Errorf("failed to insert proxy error: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastUpdatedKey, snapshot.LastUpdated.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to update store metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}
