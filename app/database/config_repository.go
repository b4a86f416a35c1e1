package database

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const configCacheTTL = 10 * time.Second

// ConfigRepository reads runtime settings from the config table through a
// short-lived cache, so loop iterations do not hammer the store while edits
// still take effect within seconds.
type ConfigRepository struct {
	db *DB

	mu        sync.Mutex
	cache     map[string]string
	fetchedAt time.Time
}

func NewConfigRepository(db *DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// GetConfig returns the value for key, or empty string when unset.
func (r *ConfigRepository) GetConfig(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache == nil || time.Since(r.fetchedAt) > configCacheTTL {
		r.refreshLocked()
	}
	return r.cache[key]
}

// GetConfigInt returns the value parsed as int, or fallback.
func (r *ConfigRepository) GetConfigInt(key string, fallback int) int {
	if v, err := strconv.Atoi(r.GetConfig(key)); err == nil {
		return v
	}
	return fallback
}

// GetConfigDuration returns the value parsed as whole seconds, or fallback.
func (r *ConfigRepository) GetConfigDuration(key string, fallback time.Duration) time.Duration {
	if v, err := strconv.Atoi(r.GetConfig(key)); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return fallback
}

// SetConfig upserts a setting and drops the cache so the write is visible
// immediately.
func (r *ConfigRepository) SetConfig(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}

	r.Invalidate()
	return nil
}

// Invalidate drops the cache. Called on hot reload.
func (r *ConfigRepository) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = nil
	r.fetchedAt = time.Time{}
}

func (r *ConfigRepository) refreshLocked() {
	rows, err := r.db.Query(`SELECT key, value FROM config`)
	if err != nil {
		// Keep serving the stale cache rather than failing reads.
		if r.cache == nil {
			r.cache = make(map[string]string)
		}
		return
	}
	defer rows.Close()

	fresh := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return
		}
		fresh[k] = v
	}
	if rows.Err() != nil {
		return
	}

	r.cache = fresh
	r.fetchedAt = time.Now()
}
