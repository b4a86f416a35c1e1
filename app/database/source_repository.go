package database

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// SourceRepository handles database operations for sources and their URLs
type SourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// GetActiveSources returns all enabled sources with their URLs attached.
func (r *SourceRepository) GetActiveSources() ([]Source, error) {
	return r.listSources(sq.Eq{"active": 1})
}

// GetAllSources returns every source regardless of the active flag.
func (r *SourceRepository) GetAllSources() ([]Source, error) {
	return r.listSources(nil)
}

func (r *SourceRepository) listSources(where interface{}) ([]Source, error) {
	q := sq.Select("id", "name", "webhook_url", "channel_id", "embed_color", "active", "items_found", "created_at").
		From("sources").
		OrderBy("id")
	if where != nil {
		q = q.Where(where)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build source query: %w", err)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		var active int
		var createdAt string
		if err := rows.Scan(&s.ID, &s.Name, &s.WebhookURL, &s.ChannelID, &s.EmbedColor, &active, &s.ItemsFound, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		s.Active = active != 0
		s.CreatedAt = parseTimestamp(createdAt)
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}

	for i := range sources {
		urls, err := r.getSourceURLs(sources[i].ID)
		if err != nil {
			return nil, err
		}
		sources[i].URLs = urls
	}

	return sources, nil
}

func (r *SourceRepository) getSourceURLs(sourceID int64) ([]SourceURL, error) {
	rows, err := r.db.Query(`
		SELECT id, source_id, url, last_item_ts
		FROM source_urls
		WHERE source_id = ?
		ORDER BY id
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query source urls: %w", err)
	}
	defer rows.Close()

	var urls []SourceURL
	for rows.Next() {
		var u SourceURL
		if err := rows.Scan(&u.ID, &u.SourceID, &u.URL, &u.LastItemTS); err != nil {
			return nil, fmt.Errorf("failed to scan source url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// CreateSource inserts a source and its URLs, returning the new id.
func (r *SourceRepository) CreateSource(s Source) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO sources (name, webhook_url, channel_id, embed_color, active)
		VALUES (?, ?, ?, ?, ?)
	`, s.Name, s.WebhookURL, s.ChannelID, s.EmbedColor, boolToInt(s.Active))
	if err != nil {
		return 0, fmt.Errorf("failed to insert source: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get source id: %w", err)
	}

	for _, u := range s.URLs {
		if _, err := r.db.Exec(`
			INSERT INTO source_urls (source_id, url, last_item_ts)
			VALUES (?, ?, ?)
		`, id, u.URL, u.LastItemTS); err != nil {
			return 0, fmt.Errorf("failed to insert source url: %w", err)
		}
	}

	return id, nil
}

// ToggleSource flips the active flag and returns the new state.
func (r *SourceRepository) ToggleSource(id int64) (bool, error) {
	res, err := r.db.Exec(`UPDATE sources SET active = 1 - active WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to toggle source: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check toggle result: %w", err)
	}
	if affected == 0 {
		return false, fmt.Errorf("source %d not found", id)
	}

	var active int
	if err := r.db.QueryRow(`SELECT active FROM sources WHERE id = ?`, id).Scan(&active); err != nil {
		return false, fmt.Errorf("failed to read toggled source: %w", err)
	}
	return active != 0, nil
}

func (r *SourceRepository) IncrementItemsFound(sourceID int64) error {
	_, err := r.db.Exec(`UPDATE sources SET items_found = items_found + 1 WHERE id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to increment items_found: %w", err)
	}
	return nil
}

// AdvanceHighWaterMark raises the URL's last seen item timestamp. The mark
// only moves forward; stale writes are ignored.
func (r *SourceRepository) AdvanceHighWaterMark(urlID int64, ts int64) error {
	_, err := r.db.Exec(`
		UPDATE source_urls SET last_item_ts = ?
		WHERE id = ? AND last_item_ts < ?
	`, ts, urlID, ts)
	if err != nil {
		return fmt.Errorf("failed to advance high-water mark: %w", err)
	}
	return nil
}

func (r *SourceRepository) GetSourceCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM sources`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTimestamp reads sqlite's CURRENT_TIMESTAMP format, falling back to
// RFC 3339 for values written by the Go driver.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
