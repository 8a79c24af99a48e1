package storage

import (
	"context"
	"errors"
	"time"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/models"
)

// Common errors
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidData    = errors.New("invalid data")
	ErrUnknownDriver  = errors.New("unknown database driver")
	ErrNotInitialized = errors.New("store not initialized")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Queue snapshot methods
	SaveQueue(ctx context.Context, gateway string, messages []models.QueuedMessage) error
	LoadQueue(ctx context.Context, gateway string) ([]models.QueuedMessage, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	Close() error
}

// EventLogFilters represents filters for event log queries
type EventLogFilters struct {
	Gateway   *string
	EntryID   *uint32
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}

// Open opens a store for driver, which is "sqlite" or "postgres", and applies migrations
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var (
		s   *SQLStore
		err error
	)

	switch driver {
	case "sqlite":
		s, err = NewSQLiteStore(dsn)
	case "postgres":
		s, err = NewPostgresStore(dsn)
	default:
		return nil, ErrUnknownDriver
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
