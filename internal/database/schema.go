package database

// SQL schemas for all ClickHouse tables

const (
	// TagPositionsTableSQL creates the tag_positions trail table
	TagPositionsTableSQL = `
		CREATE TABLE IF NOT EXISTS tag_positions (
			timestamp DateTime64(3),
			tag_id String,
			name String,
			x Float64,
			y Float64,
			z Float64,
			room String,
			confidence Float64,
			anchor_count UInt16
		) ENGINE = MergeTree()
		ORDER BY (tag_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// TagStaleEventsTableSQL creates the tag_stale_events table, one row per
	// FRESH -> STALE transition
	TagStaleEventsTableSQL = `
		CREATE TABLE IF NOT EXISTS tag_stale_events (
			timestamp DateTime64(3),
			tag_id String,
			last_seen DateTime64(3),
			last_room String
		) ENGINE = MergeTree()
		ORDER BY (tag_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		TagPositionsTableSQL,
		TagStaleEventsTableSQL,
	}
}
