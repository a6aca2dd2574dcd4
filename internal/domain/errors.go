package domain

import "errors"

// ErrStockRaceLost is returned when a variant's stock can no longer cover an
// order line at the moment the order is persisted.
var ErrStockRaceLost = errors.New("stock no longer available")
