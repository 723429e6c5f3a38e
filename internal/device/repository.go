package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines device persistence operations. The abstraction
// keeps the registry testable without a database.
type Repository interface {
	// GetBySN retrieves a device by serial number.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetBySN(ctx context.Context, sn string) (*Device, error)

	// List retrieves all devices, ordered by name.
	List(ctx context.Context) ([]Device, error)

	// ListEnabled retrieves the devices that should have coordinators.
	ListEnabled(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the serial number is already present.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, sn string) error

	// UpdateOnline records the availability reported by the cloud.
	UpdateOnline(ctx context.Context, sn string, online bool, seen time.Time) error
}

const deviceColumns = "sn, name, device_type, enabled, poll_interval, online, last_seen, created_at, updated_at"

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed repository over an open
// connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetBySN retrieves a device by serial number.
func (r *SQLiteRepository) GetBySN(ctx context.Context, sn string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE sn = ?", sn)

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by sn: %w", err)
	}
	return device, nil
}

// List retrieves all devices, ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx,
		"SELECT "+deviceColumns+" FROM devices ORDER BY name")
}

// ListEnabled retrieves the devices that should have coordinators.
func (r *SQLiteRepository) ListEnabled(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE enabled = 1 ORDER BY name")
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if err := validate(device); err != nil {
		return err
	}

	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (sn, name, device_type, enabled, poll_interval, online, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.SN, device.Name, device.DeviceType, boolToInt(device.Enabled),
		device.PollInterval, boolToInt(device.Online), device.LastSeen,
		device.CreatedAt, device.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	if err := validate(device); err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET name = ?, device_type = ?, enabled = ?, poll_interval = ?, online = ?, last_seen = ?, updated_at = ?
		WHERE sn = ?`,
		device.Name, device.DeviceType, boolToInt(device.Enabled),
		device.PollInterval, boolToInt(device.Online), device.LastSeen,
		device.UpdatedAt, device.SN,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result)
}

// Delete removes a device.
func (r *SQLiteRepository) Delete(ctx context.Context, sn string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE sn = ?", sn)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// UpdateOnline records the availability reported by the cloud.
func (r *SQLiteRepository) UpdateOnline(ctx context.Context, sn string, online bool, seen time.Time) error {
	var lastSeen any
	if online {
		lastSeen = seen.UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET online = ?, last_seen = COALESCE(?, last_seen), updated_at = ?
		WHERE sn = ?`,
		boolToInt(online), lastSeen, time.Now().UTC(), sn,
	)
	if err != nil {
		return fmt.Errorf("updating device availability: %w", err)
	}
	return requireRow(result)
}

// queryDevices runs a multi-row device query.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice maps one row onto a Device.
func scanDevice(row rowScanner) (*Device, error) {
	var (
		device   Device
		enabled  int
		online   int
		interval sql.NullInt64
		lastSeen sql.NullTime
	)

	err := row.Scan(
		&device.SN, &device.Name, &device.DeviceType, &enabled,
		&interval, &online, &lastSeen,
		&device.CreatedAt, &device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	device.Enabled = enabled != 0
	device.Online = online != 0
	if interval.Valid {
		value := int(interval.Int64)
		device.PollInterval = &value
	}
	if lastSeen.Valid {
		device.LastSeen = &lastSeen.Time
	}
	return &device, nil
}

// validate checks the fields the schema cannot.
func validate(device *Device) error {
	if device.SN == "" {
		return fmt.Errorf("%w: serial number required", ErrInvalidDevice)
	}
	if device.PollInterval != nil && *device.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidDevice)
	}
	return nil
}

// requireRow converts a zero-row result into ErrDeviceNotFound.
func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// boolToInt maps a Go bool onto the SQLite integer columns.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
