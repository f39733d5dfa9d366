package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS pool_alerts (
        id            BIGSERIAL PRIMARY KEY,
        pool_id       TEXT        NOT NULL,
        pool_name     TEXT        NOT NULL,
        kind          TEXT        NOT NULL,
        price         NUMERIC     NOT NULL,
        min_price     NUMERIC     NOT NULL,
        max_price     NUMERIC     NOT NULL,
        hours_outside INTEGER     NOT NULL DEFAULT 0,
        channels      TEXT[]      NOT NULL DEFAULT '{}',
        delivered     BOOLEAN     NOT NULL DEFAULT FALSE,
        fired_at      TIMESTAMPTZ NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS pool_alerts_created_at_idx ON pool_alerts (created_at);
    CREATE INDEX IF NOT EXISTS pool_alerts_pool_id_idx ON pool_alerts (pool_id, fired_at DESC);`

	insertAlertSQL = `INSERT INTO pool_alerts (
        pool_id,
        pool_name,
        kind,
        price,
        min_price,
        max_price,
        hours_outside,
        channels,
        delivered,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id, created_at;`

	alertColumns = `id,
        pool_id,
        pool_name,
        kind,
        price::text,
        min_price::text,
        max_price::text,
        hours_outside,
        channels,
        delivered,
        fired_at,
        created_at`

	listRecentAlertsSQL = `SELECT ` + alertColumns + `
    FROM pool_alerts
    ORDER BY fired_at DESC, id DESC
    LIMIT $1;`

	listPoolAlertsSQL = `SELECT ` + alertColumns + `
    FROM pool_alerts
    WHERE pool_id = $1
    ORDER BY fired_at DESC, id DESC
    LIMIT $2;`

	deleteAlertsBeforeSQL = `DELETE FROM pool_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	ListPoolAlerts(ctx context.Context, poolID string, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists the alert audit trail.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the alert table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// session ends with the connection; the lock goes with it
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.PoolID,
		alert.PoolName,
		alert.Kind,
		alert.Price.String(),
		alert.Min.String(),
		alert.Max.String(),
		alert.HoursOutside,
		channels,
		alert.Delivered,
		alert.FiredAt,
	)

	rec := alert
	rec.Channels = channels
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts across all pools.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	return collectAlerts(rows, limit)
}

// ListPoolAlerts lists the most recent alerts of one pool.
func (s *Store) ListPoolAlerts(ctx context.Context, poolID string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPoolAlertsSQL, poolID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list pool alerts: %w", queryErr)
	}
	return collectAlerts(rows, limit)
}

// DeleteAlertsBefore deletes historical alerts and reports how many went.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectAlerts(rows pgx.Rows, limit int) ([]AlertRecord, error) {
	defer rows.Close()

	if limit < 0 {
		limit = 0
	}
	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec                      AlertRecord
		priceStr, minStr, maxStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.PoolID,
		&rec.PoolName,
		&rec.Kind,
		&priceStr,
		&minStr,
		&maxStr,
		&rec.HoursOutside,
		&rec.Channels,
		&rec.Delivered,
		&rec.FiredAt,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse price: %w", err)
	}
	if rec.Min, err = decimal.NewFromString(minStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse min price: %w", err)
	}
	if rec.Max, err = decimal.NewFromString(maxStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse max price: %w", err)
	}
	return rec, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
