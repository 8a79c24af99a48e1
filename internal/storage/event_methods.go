package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/models"
)

// CreateEventLog creates an event log entry
func (s *SQLStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO event_logs (
			id, created_at, gateway, entry_id, type, level, code, description, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var entryID sql.NullInt64
	if event.EntryID != nil {
		entryID = sql.NullInt64{Int64: int64(*event.EntryID), Valid: true}
	}

	_, err := s.getDB().ExecContext(ctx, s.rebind(query),
		event.ID, event.CreatedAt.UnixNano(), event.Gateway, entryID,
		string(event.Type), string(event.Level), event.Code, event.Description, event.Details,
	)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// ListEventLogs lists event logs with filters, newest first
func (s *SQLStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if filters.Gateway != nil {
		where += " AND gateway = ?"
		args = append(args, *filters.Gateway)
	}

	if filters.EntryID != nil {
		where += " AND entry_id = ?"
		args = append(args, int64(*filters.EntryID))
	}

	if filters.Type != nil {
		where += " AND type = ?"
		args = append(args, string(*filters.Type))
	}

	if filters.Level != nil {
		where += " AND level = ?"
		args = append(args, string(*filters.Level))
	}

	if filters.StartTime != nil {
		where += " AND created_at >= ?"
		args = append(args, filters.StartTime.UnixNano())
	}

	if filters.EndTime != nil {
		where += " AND created_at <= ?"
		args = append(args, filters.EndTime.UnixNano())
	}

	var total int64
	if err := s.getDB().QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM event_logs"+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count event logs: %w", err)
	}

	query := `
		SELECT id, created_at, gateway, entry_id, type, level, code, description, details
		FROM event_logs` + where + `
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query event logs: %w", err)
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		var (
			event     models.EventLog
			createdAt int64
			entryID   sql.NullInt64
			eventType string
			level     string
		)

		if err := rows.Scan(
			&event.ID, &createdAt, &event.Gateway, &entryID, &eventType, &level,
			&event.Code, &event.Description, &event.Details,
		); err != nil {
			return nil, 0, fmt.Errorf("scan event log: %w", err)
		}

		event.CreatedAt = time.Unix(0, createdAt)
		event.Type = models.EventType(eventType)
		event.Level = models.EventLevel(level)
		if entryID.Valid {
			id := uint32(entryID.Int64)
			event.EntryID = &id
		}
		events = append(events, &event)
	}

	return events, total, rows.Err()
}
