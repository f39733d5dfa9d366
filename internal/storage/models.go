package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures an emitted pool alert for auditing.
type AlertRecord struct {
	ID           int64
	PoolID       string
	PoolName     string
	Kind         string
	Price        decimal.Decimal
	Min          decimal.Decimal
	Max          decimal.Decimal
	HoursOutside int
	Channels     []string
	Delivered    bool
	FiredAt      time.Time
	CreatedAt    time.Time
}
