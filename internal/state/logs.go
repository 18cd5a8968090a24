package state

import (
	"database/sql"
	"fmt"
	"time"
)

// LogEntry is one row of the structured pipeline log.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
}

// AppendLog writes one log entry.
func (db *DB) AppendLog(level, message, source string) error {
	_, err := db.Exec(`
		INSERT INTO logs (timestamp, level, message, source) VALUES (?, ?, ?, ?)
	`, formatTime(time.Now()), level, message, source)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogs returns the most recent entries, newest first.
func (db *DB) ListLogs(limit int) ([]*LogEntry, error) {
	rows, err := db.Query(`
		SELECT id, timestamp, level, message, source
		FROM logs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		var ts string
		var source sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Message, &source); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Timestamp, _ = parseTime(ts)
		e.Source = source.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
