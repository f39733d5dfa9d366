package fetcher

import (
	"context"
	"errors"
)

// ErrFetch wraps every failure to obtain a raw price from the chain,
// timeouts included.
var ErrFetch = errors.New("fetch sqrt price")

// SqrtPriceSource retrieves the raw Q64 square-root price of a pool object.
type SqrtPriceSource interface {
	FetchSqrtPrice(ctx context.Context, poolID string) (string, error)
}
