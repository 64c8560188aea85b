// Package database provides PostgreSQL client functionality for reading
// ride orders with connection pooling and health checks.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/stuartshay/ride-window-worker/internal/ride"
)

// Client wraps a PostgreSQL database connection
type Client struct {
	db *sql.DB
}

const selectRides = `
	SELECT
		id_order, id_driver, id_client, dt_15_min,
		from_latitude, from_longitude, to_latitude, to_longitude,
		arrived_distance, duration, arrived_duration
	FROM public.rides
	WHERE dt_15_min >= $1::date AND dt_15_min < $2::date + interval '1 day'
	ORDER BY dt_15_min ASC, id_order ASC
`

// NewClient creates a new database client with connection pooling
func NewClient(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (also failed to close: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// GetRidesByDateRange retrieves rides between two dates, inclusive.
// Dates should be in YYYY-MM-DD format.
func (c *Client) GetRidesByDateRange(ctx context.Context, startDate, endDate string) ([]ride.Ride, error) {
	rows, err := c.db.QueryContext(ctx, selectRides, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var rides []ride.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return rides, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRide reads one row, treating NULL arrival columns as zero
func scanRide(row scanner) (ride.Ride, error) {
	var r ride.Ride
	var driverID, clientID sql.NullString
	var arrivedDistance, duration, arrivedDuration sql.NullFloat64

	err := row.Scan(
		&r.OrderID,
		&driverID,
		&clientID,
		&r.Timestamp,
		&r.FromLatitude,
		&r.FromLongitude,
		&r.ToLatitude,
		&r.ToLongitude,
		&arrivedDistance,
		&duration,
		&arrivedDuration,
	)
	if err != nil {
		return ride.Ride{}, fmt.Errorf("scan failed: %w", err)
	}

	r.DriverID = driverID.String
	r.ClientID = clientID.String
	r.ArrivedDistance = arrivedDistance.Float64
	r.Duration = duration.Float64
	r.ArrivedDuration = arrivedDuration.Float64
	r.Timestamp = r.Timestamp.UTC()

	return r, nil
}

// CountRides returns the number of rides between two dates, inclusive
func (c *Client) CountRides(ctx context.Context, startDate, endDate string) (int, error) {
	query := `SELECT COUNT(*) FROM public.rides WHERE dt_15_min >= $1::date AND dt_15_min < $2::date + interval '1 day'`

	var count int
	err := c.db.QueryRowContext(ctx, query, startDate, endDate).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}

	return count, nil
}

// HealthCheck verifies database connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
