package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"pet-tracker/internal/models"
)

// Recorder stores the position trail. It is write-only: nothing in the
// tracker reads it back.
type Recorder interface {
	SavePositions(ctx context.Context, estimates []models.PositionEstimate) error
	Close() error
}

type ClickHouseDB struct {
	conn   driver.Conn
	logger *zap.Logger
}

// ClickHouseConfig holds connection settings
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, config ClickHouseConfig, logger *zap.Logger) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("Connected to ClickHouse", zap.String("addr", config.Addr))

	db := &ClickHouseDB{conn: conn, logger: logger}

	// Initialize schema
	if err := db.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Info("Database schema initialized successfully")
	return nil
}

// SavePositions writes a batch of estimates: fixes go to tag_positions and
// stale transitions to tag_stale_events
func (db *ClickHouseDB) SavePositions(ctx context.Context, estimates []models.PositionEstimate) error {
	fixes, stale := splitTrail(estimates)

	if len(fixes) > 0 {
		batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO tag_positions")
		if err != nil {
			return fmt.Errorf("failed to prepare position batch: %w", err)
		}
		for _, r := range fixes {
			if err := batch.Append(r.Timestamp, r.TagID, r.Name, r.X, r.Y, r.Z, r.Room, r.Confidence, r.AnchorCount); err != nil {
				return fmt.Errorf("failed to append position: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to insert positions: %w", err)
		}
	}

	if len(stale) > 0 {
		batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO tag_stale_events")
		if err != nil {
			return fmt.Errorf("failed to prepare stale event batch: %w", err)
		}
		for _, r := range stale {
			if err := batch.Append(r.Timestamp, r.TagID, r.LastSeen, r.LastRoom); err != nil {
				return fmt.Errorf("failed to append stale event: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to insert stale events: %w", err)
		}
	}

	return nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.logger.Info("ClickHouse connection closed")
	}
	return nil
}

// NoopRecorder discards the trail; used when ClickHouse is not configured
type NoopRecorder struct{}

func (NoopRecorder) SavePositions(context.Context, []models.PositionEstimate) error { return nil }
func (NoopRecorder) Close() error                                                  { return nil }
