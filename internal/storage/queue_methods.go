package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/models"
)

// SaveQueue replaces the stored queue snapshot for gateway
func (s *SQLStore) SaveQueue(ctx context.Context, gateway string, messages []models.QueuedMessage) error {
	txStore, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := txStore.(*SQLStore)
	owned := s.tx == nil

	if err := tx.saveQueue(ctx, gateway, messages); err != nil {
		if owned {
			return rollback(tx, err)
		}
		return err
	}

	if owned {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit queue snapshot: %w", err)
		}
	}
	return nil
}

// rollback undoes tx after err. A failed rollback is logged and joined to err.
func rollback(tx *SQLStore, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		log.Error().
			Err(rbErr).
			AnErr("cause", err).
			Msg("Failed to roll back transaction")
		return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	return err
}

func (s *SQLStore) saveQueue(ctx context.Context, gateway string, messages []models.QueuedMessage) error {
	if _, err := s.getDB().ExecContext(ctx, s.rebind("DELETE FROM queued_messages WHERE gateway = ?"), gateway); err != nil {
		return fmt.Errorf("clear queue snapshot: %w", err)
	}

	query := s.rebind(`
		INSERT INTO queued_messages (
			gateway, position, entry_id, priority, enqueued_at, ttl_ms, retries, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	for i, m := range messages {
		if m.Payload == nil {
			return fmt.Errorf("queue entry %d has no payload: %w", m.EntryID, ErrInvalidData)
		}
		_, err := s.getDB().ExecContext(ctx, query,
			gateway, i, int64(m.EntryID), int(m.Priority), m.EnqueuedAt.UnixNano(),
			m.TTL.Milliseconds(), int(m.Retries), m.Payload,
		)
		if err != nil {
			return fmt.Errorf("insert queue entry %d: %w", m.EntryID, err)
		}
	}
	return nil
}

// LoadQueue returns the stored queue snapshot for gateway in queue order
func (s *SQLStore) LoadQueue(ctx context.Context, gateway string) ([]models.QueuedMessage, error) {
	query := `
		SELECT position, entry_id, priority, enqueued_at, ttl_ms, retries, payload
		FROM queued_messages
		WHERE gateway = ?
		ORDER BY position`

	rows, err := s.getDB().QueryContext(ctx, s.rebind(query), gateway)
	if err != nil {
		return nil, fmt.Errorf("query queue snapshot: %w", err)
	}
	defer rows.Close()

	var messages []models.QueuedMessage
	for rows.Next() {
		var (
			m          models.QueuedMessage
			entryID    int64
			priority   int
			enqueuedAt int64
			ttlMs      int64
			retries    int
		)
		if err := rows.Scan(&m.Position, &entryID, &priority, &enqueuedAt, &ttlMs, &retries, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}

		m.Gateway = gateway
		m.EntryID = uint32(entryID)
		m.Priority = uint8(priority)
		m.EnqueuedAt = time.Unix(0, enqueuedAt)
		m.TTL = time.Duration(ttlMs) * time.Millisecond
		m.Retries = uint8(retries)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
