// Package repository provides data access implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agroflow/irrigation-controller/internal/model/entities"
)

// ErrNotFound is returned when no state row exists for a device.
var ErrNotFound = errors.New("device state not found")

// ForcePatch is the operator escape hatch for interlock testing: any non-nil
// field is written verbatim, bypassing the decision path.
type ForcePatch struct {
	RelayState   *bool  `json:"relay_state,omitempty"`
	LastOnTs     *int64 `json:"last_on_ts,omitempty"`
	LastOffTs    *int64 `json:"last_off_ts,omitempty"`
	LastActionTs *int64 `json:"last_action_ts,omitempty"`
}

// DeviceStateRepository persists the per-device relay state machine.
type DeviceStateRepository interface {
	Get(ctx context.Context, deviceID string) (*entities.DeviceState, error)
	Ensure(ctx context.Context, deviceID string) (*entities.DeviceState, error)
	Save(ctx context.Context, state *entities.DeviceState) error
	SetManualLock(ctx context.Context, deviceID string, locked bool) (*entities.DeviceState, error)
	ForceWrite(ctx context.Context, deviceID string, patch ForcePatch) (*entities.DeviceState, error)
	List(ctx context.Context) ([]*entities.DeviceState, error)
	Close() error
}

// SQLiteDeviceStateRepository implements DeviceStateRepository using SQLite.
type SQLiteDeviceStateRepository struct {
	db     *sql.DB
	DBPath string
}

var _ DeviceStateRepository = (*SQLiteDeviceStateRepository)(nil)

// NewSQLiteDeviceStateRepository opens (creating if needed) the state database.
func NewSQLiteDeviceStateRepository(dbPath string) (*SQLiteDeviceStateRepository, error) {
	if dbPath == "" {
		dbPath = filepath.Join("data", "device-state.db")
	}
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one pooled connection avoids SQLITE_BUSY
	// under concurrent per-device cycles.
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS device_states (
		device_id      TEXT PRIMARY KEY,
		relay_state    INTEGER NOT NULL DEFAULT 0,
		manual_lock    INTEGER NOT NULL DEFAULT 0,
		last_action_ts INTEGER NOT NULL DEFAULT 0,
		last_on_ts     INTEGER NOT NULL DEFAULT 0,
		last_off_ts    INTEGER NOT NULL DEFAULT 0,
		last_telemetry TEXT NOT NULL DEFAULT '',
		updated_at     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_device_states_updated ON device_states(updated_at);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteDeviceStateRepository{db: db, DBPath: dbPath}, nil
}

// Close closes the database connection.
func (r *SQLiteDeviceStateRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const selectColumns = `device_id, relay_state, manual_lock, last_action_ts, last_on_ts, last_off_ts, last_telemetry, updated_at`

// Get returns the state row for deviceID or ErrNotFound.
func (r *SQLiteDeviceStateRepository) Get(ctx context.Context, deviceID string) (*entities.DeviceState, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM device_states WHERE device_id = ?`, deviceID)
	return scanState(row)
}

// Ensure returns the state for deviceID, lazily creating the initial record
// (relay off, no history) on first sight.
func (r *SQLiteDeviceStateRepository) Ensure(ctx context.Context, deviceID string) (*entities.DeviceState, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_states(device_id, updated_at) VALUES(?, ?)
		 ON CONFLICT(device_id) DO NOTHING`,
		deviceID, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to ensure device %s: %w", deviceID, err)
	}
	return r.Get(ctx, deviceID)
}

// Save upserts the full state row.
func (r *SQLiteDeviceStateRepository) Save(ctx context.Context, state *entities.DeviceState) error {
	state.UpdatedAt = time.Now().UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_states(device_id, relay_state, manual_lock, last_action_ts, last_on_ts, last_off_ts, last_telemetry, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
		relay_state=excluded.relay_state,
		manual_lock=excluded.manual_lock,
		last_action_ts=excluded.last_action_ts,
		last_on_ts=excluded.last_on_ts,
		last_off_ts=excluded.last_off_ts,
		last_telemetry=excluded.last_telemetry,
		updated_at=excluded.updated_at`,
		state.DeviceID, state.RelayState, state.ManualLock,
		state.LastActionTs, state.LastOnTs, state.LastOffTs,
		state.LastTelemetry, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", state.DeviceID, err)
	}
	return nil
}

// SetManualLock flips the manual-lock flag, creating the device row if needed,
// and returns the resulting row.
func (r *SQLiteDeviceStateRepository) SetManualLock(ctx context.Context, deviceID string, locked bool) (*entities.DeviceState, error) {
	if _, err := r.Ensure(ctx, deviceID); err != nil {
		return nil, err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE device_states SET manual_lock = ?, updated_at = ? WHERE device_id = ?`,
		locked, time.Now().UnixMilli(), deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to set manual lock for %s: %w", deviceID, err)
	}
	return r.Get(ctx, deviceID)
}

// ForceWrite applies the operator patch verbatim and returns the resulting
// row.
func (r *SQLiteDeviceStateRepository) ForceWrite(ctx context.Context, deviceID string, patch ForcePatch) (*entities.DeviceState, error) {
	state, err := r.Ensure(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if patch.RelayState != nil {
		state.RelayState = *patch.RelayState
	}
	if patch.LastOnTs != nil {
		state.LastOnTs = *patch.LastOnTs
	}
	if patch.LastOffTs != nil {
		state.LastOffTs = *patch.LastOffTs
	}
	if patch.LastActionTs != nil {
		state.LastActionTs = *patch.LastActionTs
	}
	if err := r.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// List returns all device states ordered by device id.
func (r *SQLiteDeviceStateRepository) List(ctx context.Context) ([]*entities.DeviceState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM device_states ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list device states: %w", err)
	}
	defer rows.Close()

	var result []*entities.DeviceState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*entities.DeviceState, error) {
	var s entities.DeviceState
	err := row.Scan(&s.DeviceID, &s.RelayState, &s.ManualLock,
		&s.LastActionTs, &s.LastOnTs, &s.LastOffTs, &s.LastTelemetry, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device state: %w", err)
	}
	return &s, nil
}
