package database

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// LogRepository persists significant pipeline events for the API surface
type LogRepository struct {
	db *DB
}

func NewLogRepository(db *DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) AppendLog(level, message, source string) error {
	if _, err := r.db.Exec(`
		INSERT INTO logs (level, message, source) VALUES (?, ?, ?)
	`, level, message, source); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// RecentLogs returns the newest entries, newest first.
func (r *LogRepository) RecentLogs(limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query, args, err := sq.Select("id", "level", "message", "source", "created_at").
		From("logs").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build log query: %w", err)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Level, &e.Message, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.CreatedAt = parseTimestamp(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *LogRepository) GetLogCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return count, nil
}
