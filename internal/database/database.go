package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"atelier/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tailors (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            accepting_bookings BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            customer_id INTEGER NOT NULL,
            tailor_id INTEGER NOT NULL,
            date DATETIME NOT NULL,
            start_time TEXT NOT NULL,
            service TEXT NOT NULL,
            consultation_notes TEXT NOT NULL DEFAULT '',
            consultation_at DATETIME,
            quote TEXT,
            escrow_ref TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            status TEXT NOT NULL DEFAULT 'pending',
            cancel_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS booking_status_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            status TEXT NOT NULL,
            changed_at DATETIME NOT NULL,
            actor_role TEXT NOT NULL,
            actor_id INTEGER NOT NULL DEFAULT 0,
            note TEXT NOT NULL DEFAULT ''
        )`,

		`CREATE TABLE IF NOT EXISTS orders (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL UNIQUE,
            customer_id INTEGER NOT NULL,
            tailor_id INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'awaiting_plan',
            version INTEGER NOT NULL DEFAULT 1,
            plan_submitted_at DATETIME,
            plan_approved_at DATETIME,
            plan_rejected_at DATETIME,
            plan_rejection_reason TEXT NOT NULL DEFAULT '',
            total_estimated_days INTEGER NOT NULL DEFAULT 0,
            estimated_completion DATETIME,
            current_stage INTEGER NOT NULL DEFAULT 0,
            plan_deadline DATETIME,
            plan_reminder_sent BOOLEAN NOT NULL DEFAULT 0,
            plan_overdue BOOLEAN NOT NULL DEFAULT 0,
            work_overdue BOOLEAN NOT NULL DEFAULT 0,
            work_completed_at DATETIME,
            delivered_at DATETIME,
            completed_at DATETIME,
            rating INTEGER,
            feedback TEXT NOT NULL DEFAULT '',
            dispute_raised_by INTEGER,
            dispute_raised_role TEXT,
            dispute_reason TEXT,
            dispute_status TEXT,
            dispute_resolution TEXT,
            dispute_prior_status TEXT,
            dispute_raised_at DATETIME,
            dispute_resolved_at DATETIME,
            cancel_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS order_stages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id INTEGER NOT NULL,
            seq INTEGER NOT NULL,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            estimated_days INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            started_at DATETIME,
            completed_at DATETIME,
            notes TEXT NOT NULL DEFAULT '[]',
            UNIQUE(order_id, seq)
        )`,

		`CREATE TABLE IF NOT EXISTS order_delay_requests (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id INTEGER NOT NULL,
            reason TEXT NOT NULL,
            additional_days INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            requested_at DATETIME NOT NULL,
            reviewed_by INTEGER NOT NULL DEFAULT 0,
            review_notes TEXT NOT NULL DEFAULT '',
            reviewed_at DATETIME
        )`,

		`CREATE TABLE IF NOT EXISTS order_plan_revisions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id INTEGER NOT NULL,
            revision INTEGER NOT NULL,
            stages TEXT NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            revised_by INTEGER NOT NULL DEFAULT 0,
            archived_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS order_status_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id INTEGER NOT NULL,
            status TEXT NOT NULL,
            changed_at DATETIME NOT NULL,
            actor_role TEXT NOT NULL,
            actor_id INTEGER NOT NULL DEFAULT 0,
            note TEXT NOT NULL DEFAULT ''
        )`,

		`CREATE TABLE IF NOT EXISTS settings (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            entity_type TEXT NOT NULL,
            entity_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_tailor_date ON bookings(tailor_id, date, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_history_booking ON booking_status_history(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_order_history_order ON order_status_history(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_stages_order ON order_stages(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_delays_order ON order_delay_requests(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Tailor methods

func (db *DB) GetTailor(ctx context.Context, id int64) (*models.Tailor, error) {
	query := `SELECT id, name, accepting_bookings, created_at, updated_at FROM tailors WHERE id = ?`
	var t models.Tailor
	err := db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.AcceptingBookings, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tailor: %w", err)
	}
	return &t, nil
}

func (db *DB) UpsertTailor(ctx context.Context, tailor *models.Tailor) error {
	query := `INSERT INTO tailors (id, name, accepting_bookings, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = excluded.name,
                  accepting_bookings = excluded.accepting_bookings,
                  updated_at = excluded.updated_at`
	now := time.Now()
	_, err := db.ExecContext(ctx, query, tailor.ID, tailor.Name, tailor.AcceptingBookings, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert tailor: %w", err)
	}
	return nil
}
