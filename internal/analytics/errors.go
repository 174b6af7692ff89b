package analytics

import (
	"errors"

	"growthmap/server/internal/models"
)

var (
	// ErrInvalidFilter marks queries that are rejected before touching the store.
	ErrInvalidFilter = models.ErrInvalidFilter
	// ErrUpstreamUnavailable wraps failures of the sale record store.
	ErrUpstreamUnavailable = errors.New("sale store unavailable")
)
